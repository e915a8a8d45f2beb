package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/store"
	"github.com/0neda/trackify/internal/tasks"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskUpdateCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	cmd.AddCommand(newTaskAccessCmd())
	cmd.AddCommand(newTaskDepCmd())
	return cmd
}

func parseCLIDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return t.UTC(), nil
}

func printTask(cmd *cobra.Command, d *store.TaskDetail) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Task %d: %s [%s/%s]\n", d.ID, d.Title, d.Status, d.Priority)
	_, _ = fmt.Fprintf(out, "  creator: %s (%d)\n", d.Creator.Username, d.Creator.ID)
	if d.Description != nil {
		_, _ = fmt.Fprintf(out, "  description: %s\n", *d.Description)
	}
	if d.StartDate != nil {
		_, _ = fmt.Fprintf(out, "  start: %s\n", d.StartDate.Format("2006-01-02"))
	}
	if d.DueDate != nil {
		_, _ = fmt.Fprintf(out, "  due: %s\n", d.DueDate.Format("2006-01-02"))
	}
	if d.Observations != nil {
		_, _ = fmt.Fprintf(out, "  observations:\n    %s\n", strings.ReplaceAll(*d.Observations, "\n", "\n    "))
	}
	for _, a := range d.Access {
		_, _ = fmt.Fprintf(out, "  access: %s -> %s\n", a.User.Username, a.Level)
	}
	for _, r := range d.Dependencies {
		_, _ = fmt.Fprintf(out, "  depends on: %d %s [%s]\n", r.ID, r.Title, r.Status)
	}
	for _, r := range d.DependedBy {
		_, _ = fmt.Fprintf(out, "  depended by: %d %s [%s]\n", r.ID, r.Title, r.Status)
	}
}

func newTaskCreateCmd() *cobra.Command {
	var as, title, description, status, priority, start, due string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			draft := store.TaskDraft{Title: title}
			if description != "" {
				draft.Description = &description
			}
			if status != "" {
				if draft.Status, err = store.ParseStatus(status); err != nil {
					return err
				}
			}
			if priority != "" {
				if draft.Priority, err = store.ParsePriority(priority); err != nil {
					return err
				}
			}
			if start != "" {
				t, err := parseCLIDate(start)
				if err != nil {
					return err
				}
				draft.StartDate = &t
			}
			if due != "" {
				t, err := parseCLIDate(due)
				if err != nil {
					return err
				}
				draft.DueDate = &t
			}

			d, err := tasks.New(st).Create(cmd.Context(), user.ID, draft)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %d: %s\n", d.ID, d.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&status, "status", "", "Status (TODO, IN_PROGRESS, REVIEW, BLOCKED, DONE, CANCELLED)")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (LOW, MEDIUM, HIGH, URGENT)")
	cmd.Flags().StringVar(&start, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks the user can see, in schedule order",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			list, err := tasks.New(st).List(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range list {
				due := "-"
				if d.DueDate != nil {
					due = d.DueDate.Format("2006-01-02")
				}
				_, _ = fmt.Fprintf(out, "%d\t%s\t%s\t%s\tdue %s\n", d.ID, d.Title, d.Status, d.Priority, due)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var as string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one task with grants and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			d, err := tasks.New(st).Get(cmd.Context(), user.ID, taskID)
			if err != nil {
				return err
			}
			printTask(cmd, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskUpdateCmd() *cobra.Command {
	var as, title, description, observations, status, priority, start, due string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update task fields; pass an empty value to clear a clearable field",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}

			var p store.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = store.FieldOf(title)
			}
			if flags.Changed("description") {
				if description == "" {
					p.Description = store.FieldNull[string]()
				} else {
					p.Description = store.FieldOf(description)
				}
			}
			if flags.Changed("observations") {
				if observations == "" {
					p.Observations = store.FieldNull[string]()
				} else {
					p.Observations = store.FieldOf(observations)
				}
			}
			if flags.Changed("status") {
				s, err := store.ParseStatus(status)
				if err != nil {
					return err
				}
				p.Status = store.FieldOf(s)
			}
			if flags.Changed("priority") {
				pr, err := store.ParsePriority(priority)
				if err != nil {
					return err
				}
				p.Priority = store.FieldOf(pr)
			}
			if flags.Changed("start") {
				if start == "" {
					p.StartDate = store.FieldNull[time.Time]()
				} else {
					t, err := parseCLIDate(start)
					if err != nil {
						return err
					}
					p.StartDate = store.FieldOf(t)
				}
			}
			if flags.Changed("due") {
				if due == "" {
					p.DueDate = store.FieldNull[time.Time]()
				} else {
					t, err := parseCLIDate(due)
					if err != nil {
						return err
					}
					p.DueDate = store.FieldOf(t)
				}
			}

			d, err := tasks.New(st).Update(cmd.Context(), user.ID, taskID, p)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated task %d\n", d.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&description, "description", "", "New description (empty clears)")
	cmd.Flags().StringVar(&observations, "observations", "", "Observation note to append (empty clears the log)")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&priority, "priority", "", "New priority")
	cmd.Flags().StringVar(&start, "start", "", "New start date (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "New due date (empty clears)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	var as string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task (creator only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			if err := tasks.New(st).Remove(cmd.Context(), user.ID, taskID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %d\n", taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Manage view/edit grants on a task",
	}
	cmd.AddCommand(newTaskAccessGrantCmd())
	cmd.AddCommand(newTaskAccessRevokeCmd())
	return cmd
}

func newTaskAccessGrantCmd() *cobra.Command {
	var as, target, level string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant view or edit to a user (creator only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 || target == "" {
				return fmt.Errorf("--id and --user are required")
			}
			lvl, err := access.ParseLevel(level)
			if err != nil {
				return err
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			targetUser, err := st.GetUserByUsername(cmd.Context(), target)
			if err != nil {
				return err
			}
			if targetUser == nil {
				return apperr.NotFoundf("user %q", target)
			}
			a, err := tasks.New(st).GrantAccess(cmd.Context(), user.ID, taskID, targetUser.ID, lvl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Granted %s on task %d to %q\n", a.Level, taskID, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&target, "user", "", "Target username")
	cmd.Flags().StringVar(&level, "level", "view", "Access level (view or edit)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskAccessRevokeCmd() *cobra.Command {
	var as, target string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a user's grant (creator only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 || target == "" {
				return fmt.Errorf("--id and --user are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			targetUser, err := st.GetUserByUsername(cmd.Context(), target)
			if err != nil {
				return err
			}
			if targetUser == nil {
				return apperr.NotFoundf("user %q", target)
			}
			if err := tasks.New(st).RevokeAccess(cmd.Context(), user.ID, taskID, targetUser.ID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Revoked access on task %d from %q\n", taskID, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&target, "user", "", "Target username")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskDepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage task dependencies",
	}
	cmd.AddCommand(newTaskDepAddCmd())
	cmd.AddCommand(newTaskDepRemoveCmd())
	return cmd
}

func newTaskDepAddCmd() *cobra.Command {
	var as string
	var taskID int64
	var on []int64

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add dependency edges (all-or-nothing, cycles rejected)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 || len(on) == 0 {
				return fmt.Errorf("--id and --on are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			d, err := tasks.New(st).AddDependencies(cmd.Context(), user.ID, taskID, on)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d now depends on %d task(s)\n", taskID, len(d.Dependencies))
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().Int64SliceVar(&on, "on", nil, "Task IDs this task depends on")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTaskDepRemoveCmd() *cobra.Command {
	var as string
	var taskID, dependsOn int64

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove one dependency edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 || dependsOn <= 0 {
				return fmt.Errorf("--id and --on are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := resolveUser(cmd.Context(), st, as)
			if err != nil {
				return err
			}
			if err := tasks.New(st).RemoveDependency(cmd.Context(), user.ID, taskID, dependsOn); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed dependency %d -> %d\n", taskID, dependsOn)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting username")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().Int64Var(&dependsOn, "on", 0, "Dependency task ID")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}
