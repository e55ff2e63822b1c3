package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/notify"
	"trackline/internal/repo"
	"trackline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "trackline",
	Short: "Trackline CLI",
	Long: `Trackline coordinates mentoring sessions and the music production pipeline.
Sessions move through a confirmation lifecycle driven by mentors; tracks move
through recording, mixing, feedback and finalization, with pooled phases that
any producer can claim.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("role", "coordinator", "acting role (mentor, producer, mentor_producer, coordinator)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(trackCmd())
	rootCmd.AddCommand(notificationsCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied:", db.Path(viper.GetString("workspace")))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if secret := os.Getenv("TRACKLINE_JWT_SECRET"); secret != "" {
				cfg.Server.JWTSecret = secret
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("TRACKLINE_JWT_SECRET is required for bearer auth")
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn)
			e.Notify = notify.NewDispatcher(notify.Config{
				WebhookURL:   cfg.Chat.WebhookURL,
				Timeout:      time.Duration(cfg.Chat.TimeoutSeconds) * time.Second,
				Coordinators: cfg.Coordinators,
			}, e.Repo, nil)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Trackline API on %s%s\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage mentoring sessions"}
	cmd.AddCommand(sessionCreateCmd())
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionAssignCmd())
	cmd.AddCommand(sessionStateCmd())
	cmd.AddCommand(sessionTerminateCmd())
	cmd.AddCommand(sessionDeleteCmd())
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var classGroup, mentor int64
	var kind, startsAt, location, theme string
	var duration int
	var autonomous bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.SessionCreateOptions{
					Kind:            kind,
					StartsAt:        startsAt,
					DurationMinutes: duration,
					Location:        location,
					Theme:           theme,
					Autonomous:      autonomous,
					ActorID:         viper.GetString("actor"),
				}
				if classGroup != 0 {
					opts.ClassGroupID = &classGroup
				}
				if mentor != 0 {
					opts.MentorID = &mentor
				}
				s, err := e.CreateSession(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&classGroup, "class-group", 0, "class group id")
	cmd.Flags().Int64Var(&mentor, "mentor", 0, "mentor id")
	cmd.Flags().StringVar(&kind, "kind", "", "session kind")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "start time (RFC3339)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&theme, "theme", "", "theme")
	cmd.Flags().BoolVar(&autonomous, "autonomous", false, "autonomous session")
	_ = cmd.MarkFlagRequired("starts-at")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var state string
	var mentor int64
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.SessionListItem
				var err error
				if pending {
					if mentor == 0 {
						return fmt.Errorf("--mentor is required with --pending")
					}
					items, err = e.ListPendingByMentor(ctx, mentor)
				} else {
					items, err = e.ListSessions(ctx, repo.SessionFilters{
						State:    domain.SessionState(state),
						MentorID: mentor,
					})
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Starts", "State", "Mentor", "Class", "Theme"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.StartsAt, s.State, s.MentorName, s.ClassGroupName, s.Theme})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().Int64Var(&mentor, "mentor", 0, "mentor filter")
	cmd.Flags().BoolVar(&pending, "pending", false, "only sessions awaiting the mentor's confirmation")
	return cmd
}

func sessionAssignCmd() *cobra.Command {
	var mentor int64
	cmd := &cobra.Command{
		Use:   "assign <session-id>",
		Short: "Assign a mentor to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AssignMentor(ctx, id, mentor, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&mentor, "mentor", 0, "mentor id")
	_ = cmd.MarkFlagRequired("mentor")
	return cmd
}

func sessionStateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "state <session-id> <state>",
		Short: "Change a session's state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ChangeState(ctx, id, domain.SessionState(args[1]), viper.GetString("actor"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason (required for rejections)")
	return cmd
}

func sessionTerminateCmd() *cobra.Command {
	var rating int
	var note string
	cmd := &cobra.Command{
		Use:   "terminate <session-id>",
		Short: "Close out a realized session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Terminate(ctx, id, rating, note, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	cmd.Flags().StringVar(&note, "note", "", "closing note")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSession(ctx, id); err != nil {
					return err
				}
				fmt.Println("deleted session", id)
				return nil
			})
		},
	}
}

func trackCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "track", Short: "Manage production tracks"}
	cmd.AddCommand(trackCreateCmd())
	cmd.AddCommand(trackListCmd())
	cmd.AddCommand(trackAdvanceCmd())
	cmd.AddCommand(trackClaimCmd())
	cmd.AddCommand(trackArchiveCmd())
	cmd.AddCommand(trackPipelineCmd())
	return cmd
}

func trackCreateCmd() *cobra.Command {
	var classGroup int64
	var discipline, demoLink string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Register a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TrackCreateOptions{
					Title:      args[0],
					Discipline: discipline,
					DemoLink:   demoLink,
					CreatorID:  viper.GetString("actor"),
					Role:       domain.Role(viper.GetString("role")),
				}
				if classGroup != 0 {
					opts.ClassGroupID = &classGroup
				}
				tr, err := e.CreateTrack(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
	cmd.Flags().Int64Var(&classGroup, "class-group", 0, "class group id")
	cmd.Flags().StringVar(&discipline, "discipline", "", "discipline")
	cmd.Flags().StringVar(&demoLink, "demo-link", "", "demo link")
	return cmd
}

func trackListCmd() *cobra.Command {
	var state string
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTracks(ctx, repo.TrackFilters{
					Archived: archived,
					State:    domain.TrackState(state),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Responsible", "Class"})
				for _, tr := range items {
					responsible := ""
					if tr.ResponsibleID != nil {
						responsible = *tr.ResponsibleID
					}
					tw.AppendRow(table.Row{tr.ID, tr.Title, tr.State, responsible, tr.ClassGroupName})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived tracks")
	return cmd
}

func trackAdvanceCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "advance <track-id>",
		Short: "Advance a track to its next phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid track id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tr, err := e.AdvancePhase(ctx, id, viper.GetString("actor"), feedback)
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback text (recorded on the review phase)")
	return cmd
}

func trackClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <track-id>",
		Short: "Claim a pooled track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid track id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tr, err := e.ClaimTask(ctx, id, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
}

func trackArchiveCmd() *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "archive <track-id>",
		Short: "Archive a finished track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid track id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var tr domain.Track
				if restore {
					tr, err = e.UnarchiveTrack(ctx, id, viper.GetString("actor"))
				} else {
					tr, err = e.ArchiveTrack(ctx, id, viper.GetString("actor"))
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "restore instead of archive")
	return cmd
}

func trackPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Track counts per pipeline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.PipelineCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"State", "Tracks"})
				for _, st := range []domain.TrackState{
					domain.TrackRecording, domain.TrackEditing,
					domain.TrackPoolMixing, domain.TrackMixingWIP,
					domain.TrackPoolFeedback, domain.TrackFeedbackWIP,
					domain.TrackPoolFinalization, domain.TrackFinalizationWIP,
					domain.TrackDone,
				} {
					tw.AppendRow(table.Row{string(st), counts[string(st)]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "In-app notifications"}
	cmd.AddCommand(notificationsListCmd())
	cmd.AddCommand(notificationsReadCmd())
	return cmd
}

func notificationsListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the actor's notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("actor"), unread, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Read", "Created"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Kind, n.Title, n.Read, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	return cmd
}

func notificationsReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.MarkNotificationRead(ctx, id)
			})
		},
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn)
	e.Notify = notify.NewDispatcher(notify.Config{
		WebhookURL:   cfg.Chat.WebhookURL,
		Timeout:      time.Duration(cfg.Chat.TimeoutSeconds) * time.Second,
		Coordinators: cfg.Coordinators,
	}, e.Repo, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
