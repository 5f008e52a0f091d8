package server

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/service"
)

func (s *Server) handleReservationStatus(c *fiber.Ctx) error {
	gate, err := s.deps.Gate.Status(c.UserContext())
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(gate.View())
}

func (s *Server) handleReservationUpdate(c *fiber.Ctx) error {
	var req struct {
		IsOpen *bool `json:"is_open"`
	}
	if err := c.BodyParser(&req); err != nil || req.IsOpen == nil {
		return s.fail(c, http.StatusBadRequest, "is_open is required")
	}
	change, err := s.deps.Gate.Set(c.UserContext(), *req.IsOpen)
	if err != nil {
		return s.failErr(c, err)
	}
	msg := "reservation closed"
	if change.Gate.IsOpen {
		msg = "reservation opened"
	}
	return c.JSON(gateResponse(msg, change, nil))
}

func (s *Server) handleListRoutes(c *fiber.Ctx) error {
	routes, err := s.deps.Routes.List(c.UserContext())
	if err != nil {
		return s.failErr(c, err)
	}
	if routes == nil {
		routes = []*model.Route{}
	}
	return c.JSON(fiber.Map{"routes": routes, "count": len(routes)})
}

func (s *Server) handleGetRoute(c *fiber.Ctx) error {
	route, err := s.deps.Routes.Get(c.UserContext(), c.Params("route_id"))
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(route)
}

func (s *Server) handleCreateRoute(c *fiber.Ctx) error {
	var req service.RouteRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := s.deps.Routes.Create(c.UserContext(), req)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.Status(http.StatusCreated).JSON(res.Route)
}

func (s *Server) handleUpdateRoute(c *fiber.Ctx) error {
	var req service.RouteRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := s.deps.Routes.Update(c.UserContext(), c.Params("route_id"), req)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(gateResponse("route updated", res.Gate, res.Route))
}

func (s *Server) handleDeleteRoute(c *fiber.Ctx) error {
	change, err := s.deps.Routes.Delete(c.UserContext(), c.Params("route_id"))
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(gateResponse("route deleted", change, nil))
}

func (s *Server) handleToggleRoute(c *fiber.Ctx) error {
	res, err := s.deps.Routes.Toggle(c.UserContext(), c.Params("route_id"))
	if err != nil {
		return s.failErr(c, err)
	}
	msg := "route closed"
	if res.Route.IsOpen {
		msg = "route opened"
	}
	return c.JSON(gateResponse(msg, res.Gate, res.Route))
}

// gateResponse renders a mutation result with the gate it left behind and,
// when a closed->open edge fired, the dispatch summary.
func gateResponse(msg string, change *service.GateChange, route *model.Route) fiber.Map {
	resp := fiber.Map{
		"message": msg,
		"state":   change.Gate.View(),
	}
	if route != nil {
		resp["route"] = route
	}
	if change.Push != nil {
		resp["push_notification"] = change.Push
	}
	return resp
}

func (s *Server) handleSubscribe(c *fiber.Ctx) error {
	var req service.SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	sub, err := s.deps.Subscriptions.Subscribe(c.UserContext(), req)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(fiber.Map{
		"message":     "subscribed",
		"student_id":  sub.SubscriberID,
		"device_type": sub.DeviceClass,
	})
}

func (s *Server) handleUnsubscribe(c *fiber.Ctx) error {
	var req struct {
		StudentID string `json:"student_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return s.fail(c, http.StatusBadRequest, err.Error())
		}
	}
	if strings.TrimSpace(req.StudentID) == "" {
		req.StudentID = c.Query("student_id")
	}
	removed, err := s.deps.Subscriptions.Unsubscribe(c.UserContext(), req.StudentID)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(fiber.Map{"message": "unsubscribed", "removed": removed})
}

func (s *Server) handleVAPIDPublicKey(c *fiber.Ctx) error {
	if s.deps.VAPIDPublicKey == "" {
		return s.fail(c, http.StatusServiceUnavailable, "web push is not configured")
	}
	return c.JSON(fiber.Map{"publicKey": s.deps.VAPIDPublicKey})
}

func (s *Server) handlePushTest(c *fiber.Ctx) error {
	var req struct {
		StudentID string `json:"student_id"`
		Title     string `json:"title"`
		Body      string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.StudentID) == "" {
		return s.fail(c, http.StatusBadRequest, "student_id is required")
	}
	summary, results, err := s.deps.Dispatcher.Test(c.UserContext(), req.StudentID, req.Title, req.Body)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(fiber.Map{"summary": summary, "results": results})
}

func (s *Server) handlePushDebug(c *fiber.Ctx) error {
	view, err := s.deps.Subscriptions.Debug(c.UserContext(), c.Params("student_id"))
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(view)
}

func (s *Server) handleCreateBooking(c *fiber.Ctx) error {
	var req service.BookingRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	booking, err := s.deps.Bookings.Book(c.UserContext(), req)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.Status(http.StatusCreated).JSON(booking)
}

func (s *Server) handleListBookings(c *fiber.Ctx) error {
	bookings, err := s.deps.Bookings.ListByStudent(c.UserContext(), c.Params("student_id"))
	if err != nil {
		return s.failErr(c, err)
	}
	if bookings == nil {
		bookings = []*model.Booking{}
	}
	return c.JSON(fiber.Map{"bookings": bookings, "count": len(bookings)})
}

func (s *Server) handleCancelBooking(c *fiber.Ctx) error {
	booking, err := s.deps.Bookings.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(booking)
}

func (s *Server) handleLogList(c *fiber.Ctx) error {
	page, err := s.deps.Logs.Query(c.UserContext(), parseLogFilter(c))
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("dispatch logs", page))
}

func (s *Server) handleLogCountDate(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountByDate(c.UserContext(), c.Query("dateType", "day"), begin, end)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("counted by date", data))
}

func (s *Server) handleLogCountStatus(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountByStatus(c.UserContext(), begin, end)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("counted by status", data))
}

func (s *Server) handleLogCountTag(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountByTag(c.UserContext(), begin, end)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("counted by tag", data))
}

func (s *Server) handleAdminSummary(c *fiber.Ctx) error {
	summary, err := s.deps.Routes.Summary(c.UserContext())
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", summary))
}

func (s *Server) handleAdminSubscriptions(c *fiber.Ctx) error {
	views, err := s.deps.Subscriptions.ListViews(c.UserContext())
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(views)
}
