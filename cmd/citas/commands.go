package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/citasulsa/citas/internal/domain/scheduling"
	"github.com/citasulsa/citas/internal/platform/session"
)

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in against the backend and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newCLIApp(cmd)
			if err != nil {
				return err
			}
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			sess, err := app.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := app.store.Save(sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", sess.Email, sess.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when omitted)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newCLIApp(cmd)
			if err != nil {
				return err
			}
			if err := app.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

// sessionRun wraps the client commands that need a signed-in user.
func sessionRun(run func(ctx context.Context, app *cliApp, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := newCLIApp(cmd)
		if err != nil {
			return err
		}
		sess, err := app.signedIn()
		if err != nil {
			return err
		}
		return run(session.WithContext(cmd.Context(), sess), app, cmd, args)
	}
}

type selectionFlags struct {
	date, area, coordinator string
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&f.area, "area", "", "area being visited")
	cmd.Flags().StringVar(&f.coordinator, "coordinator", "", "coordinator user ID")
}

func (f *selectionFlags) selection(svc *scheduling.Service) (scheduling.Selection, error) {
	sel := scheduling.Selection{Area: f.area, CoordinatorID: f.coordinator, Date: svc.Today()}
	if f.date != "" {
		d, err := scheduling.ParseDate(f.date)
		if err != nil {
			return sel, err
		}
		sel.Date = d
	}
	return sel, nil
}

func slotsCmd() *cobra.Command {
	var (
		sel    selectionFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show the bookable times for a date, area and coordinator",
		RunE: sessionRun(func(ctx context.Context, app *cliApp, cmd *cobra.Command, _ []string) error {
			svc := app.service()
			s, err := sel.selection(svc)
			if err != nil {
				return err
			}
			res, err := scheduling.NewController(svc, app.logger).Resolve(ctx, s)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResolution(cmd.OutOrStdout(), res)
			return nil
		}),
	}
	sel.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolution as JSON")
	return cmd
}

func printResolution(out io.Writer, res *scheduling.Resolution) {
	fmt.Fprintf(out, "%s %s", res.Date, res.Day)
	if res.Area != "" {
		fmt.Fprintf(out, "  area=%s", res.Area)
	}
	if res.CoordinatorID != "" {
		fmt.Fprintf(out, "  coordinator=%s", res.CoordinatorID)
	}
	fmt.Fprintf(out, "  %s\n", res.Outcome)

	switch res.Outcome {
	case scheduling.OutcomeClosed:
		fmt.Fprintln(out, "closed, no visits on this day")
		return
	case scheduling.OutcomeCoordinatorUnavailable:
		fmt.Fprintln(out, "the coordinator has no hours on this day")
		return
	}
	fmt.Fprintf(out, "hours: %s\n", res.OperatingWindows)
	if len(res.Slots) == 0 {
		fmt.Fprintln(out, "no slots")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS")
	for _, s := range res.Slots {
		status := "available"
		if !s.Available {
			status = "taken"
		}
		fmt.Fprintf(tw, "%s\t%s\n", s.Time, status)
	}
	tw.Flush()
}

type proposalFlags struct {
	p scheduling.Proposal
}

func (f *proposalFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.p.VisitorName, "name", "", "visitor name")
	cmd.Flags().StringVar(&f.p.FirstSurname, "first-surname", "", "visitor first surname")
	cmd.Flags().StringVar(&f.p.SecondSurname, "second-surname", "", "visitor second surname")
	cmd.Flags().StringVar(&f.p.Date, "date", "", "date as YYYY-MM-DD")
	cmd.Flags().StringVar(&f.p.Time, "time", "", "time as HH:MM")
	cmd.Flags().StringVar(&f.p.Area, "area", "", "area being visited")
	cmd.Flags().StringVar(&f.p.CoordinatorID, "coordinator", "", "coordinator user ID")
	cmd.Flags().StringVar(&f.p.PersonVisited, "person", "", "name of the person visited")
	cmd.Flags().StringVar(&f.p.Plates, "plates", "", "vehicle plates")
}

func validateCmd() *cobra.Command {
	var f proposalFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a proposed appointment without booking it",
		RunE: sessionRun(func(ctx context.Context, app *cliApp, cmd *cobra.Command, _ []string) error {
			if _, err := app.service().Check(ctx, f.p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s %s is bookable\n", f.p.Date, f.p.Time)
			return nil
		}),
	}
	f.bind(cmd)
	return cmd
}

func bookCmd() *cobra.Command {
	var f proposalFlags
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Validate and submit a new appointment",
		RunE: sessionRun(func(ctx context.Context, app *cliApp, cmd *cobra.Command, _ []string) error {
			svc := app.service()
			ctrl := scheduling.NewController(svc, app.logger)
			if d, err := scheduling.ParseDate(f.p.Date); err == nil {
				ctrl.Select(ctx, scheduling.Selection{Date: d, Area: f.p.Area, CoordinatorID: f.p.CoordinatorID})
			}

			appt, err := svc.Book(ctx, f.p)
			if errors.Is(err, scheduling.ErrServerConflict) {
				fmt.Fprintln(cmd.OutOrStdout(), "the slot was taken or changed on the server, refreshed availability:")
				if res, rerr := ctrl.Refresh(ctx); rerr == nil {
					printResolution(cmd.OutOrStdout(), res)
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booked %s: %s %s at %s\n", appt.ID, appt.Date, appt.Time, appt.Area)
			return nil
		}),
	}
	f.bind(cmd)
	return cmd
}

func rescheduleCmd() *cobra.Command {
	var date, at string
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move an active appointment to a new date and time",
		Args:  cobra.ExactArgs(1),
		RunE: sessionRun(func(ctx context.Context, app *cliApp, cmd *cobra.Command, args []string) error {
			appt, err := app.service().Reschedule(ctx, args[0], date, at)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rescheduled %s to %s %s\n", appt.ID, appt.Date, appt.Time)
			return nil
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "new date as YYYY-MM-DD")
	cmd.Flags().StringVar(&at, "time", "", "new time as HH:MM")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: sessionRun(func(ctx context.Context, app *cliApp, cmd *cobra.Command, args []string) error {
			if err := app.service().Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		}),
	}
}

func listCmd() *cobra.Command {
	var (
		month, state  string
		limit, offset int
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		RunE: sessionRun(func(ctx context.Context, app *cliApp, cmd *cobra.Command, _ []string) error {
			f := scheduling.ListFilter{Month: month, Limit: limit, Offset: offset}
			if state != "" {
				st, err := scheduling.ParseState(state)
				if err != nil {
					return err
				}
				f.State = st
			}
			items, total, err := app.service().List(ctx, f)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"data": items, "total": total})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTIME\tAREA\tVISITOR\tSTATE")
			for _, a := range items {
				visitor := strings.TrimSpace(strings.Join([]string{a.Visitor.Name, a.Visitor.FirstSurname, a.Visitor.SecondSurname}, " "))
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.Date, a.Time, a.Area, visitor, a.State)
			}
			tw.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(items), total)
			return nil
		}),
	}
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM")
	cmd.Flags().StringVar(&state, "state", "", "activa, completada or cancelada")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
