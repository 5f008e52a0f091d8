package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/schoolbus-labs/busreserve/internal/client"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/notify"
	"github.com/schoolbus-labs/busreserve/internal/poller"
	"github.com/spf13/cobra"
)

var (
	watchBaseURL     string
	watchStudentID   string
	watchQuiet       bool
	watchUnsubscribe bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the reservation status and print an alert when reservations open",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		baseURL := cfg.Client.BaseURL
		if watchBaseURL != "" {
			baseURL = watchBaseURL
		}
		studentID := cfg.Client.StudentID
		if watchStudentID != "" {
			studentID = watchStudentID
		}

		api, err := client.New(baseURL, "", cfg.Client.RequestTimeout)
		if err != nil {
			return err
		}

		// a terminal has no service worker, so alerts only come from polling;
		// any push channel left behind for this student would alert twice elsewhere
		if watchUnsubscribe {
			if strings.TrimSpace(studentID) == "" {
				return fmt.Errorf("--unsubscribe needs client.student_id or --student")
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
			err := api.Unsubscribe(ctx, studentID)
			cancel()
			if err != nil {
				return fmt.Errorf("unsubscribe %s: %w", studentID, err)
			}
			log.Infof("watch: removed push channel of %s", studentID)
		}

		capability := notify.Resolve(notify.Environment{
			DeviceClass:     model.DeviceWeb,
			NotificationAPI: !watchQuiet,
		})
		var sink poller.Sink
		if capability.CanPresent() {
			sink = notify.NewPresenter(notify.NewWriterDisplay(os.Stdout), 10*time.Minute)
		} else {
			log.Warnf("watch: %v, tracking status without alerts", capability.Reason)
		}
		log.Infof("watch: %s capability, polling %s every %s", capability.Kind, api.BaseURL(), cfg.Client.PollInterval)

		p := poller.New(api, sink, cfg.Client.PollInterval)
		if err := p.Start(context.Background()); err != nil {
			return err
		}

		waitForSignal()
		p.Stop()
		st := p.Stats()
		open := false
		if st.LastStatus != nil {
			open = st.LastStatus.IsOpen
		}
		fmt.Fprintf(os.Stdout, "checks=%d alerts=%d failures=%d open=%t\n", st.Checks, st.Alerts, st.Failures, open)
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchBaseURL, "url", "", "Backend base URL, overrides client.base_url")
	watchCmd.Flags().StringVar(&watchStudentID, "student", "", "Student id, overrides client.student_id")
	watchCmd.Flags().BoolVar(&watchQuiet, "quiet", false, "Track the status without printing alerts")
	watchCmd.Flags().BoolVar(&watchUnsubscribe, "unsubscribe", false, "Remove the student's push channel before watching")
}
