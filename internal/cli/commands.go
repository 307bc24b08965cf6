package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/maauso/charswap/internal/job"
	"github.com/maauso/charswap/internal/queue"
	"github.com/maauso/charswap/internal/server"
	"github.com/maauso/charswap/internal/stitch"
)

func newEnqueueCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "enqueue <project> [clip]...",
		Short: "Queue clips of a project for processing",
		Long: `Queue a unit of clips. Clips run in the order given; the project is stitched once the unit finishes.

With --all every clip of the project is queued in project order. The server refuses the unit and lists the passes whose mask file is missing.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.EnqueueResponse
			var err error
			if all {
				path := "/projects/" + url.PathEscape(args[0]) + "/queue"
				err = a.client().do(cmd.Context(), http.MethodPost, path, nil, &resp)
			} else {
				req := server.EnqueueRequest{ProjectID: args[0], ClipIDs: args[1:]}
				err = a.client().do(cmd.Context(), http.MethodPost, "/queue", req, &resp)
			}
			if err != nil {
				return err
			}
			return a.render(resp, func(t *tablewriter.Table) {
				t.Header("Unit", "Status", "Queue Depth")
				_ = t.Append(resp.UnitID, resp.Status, strconv.Itoa(resp.QueueDepth))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "queue every clip of the project")
	return cmd
}

func newProjectsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List the projects the server can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp server.ProjectsResponse
			if err := a.client().do(cmd.Context(), http.MethodGet, "/projects", nil, &resp); err != nil {
				return err
			}
			return a.render(resp, func(t *tablewriter.Table) {
				t.Header("Project")
				for _, id := range resp.Projects {
					_ = t.Append(id)
				}
			})
		},
	}
}

func newResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <project>",
		Short: "Delete a project's generated videos",
		Long:  `Reset removes clip artifacts, stitch substitutes, the final video and per-pass intermediates. Masks are kept. A project that is being processed cannot be reset.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.ResetResponse
			path := "/projects/" + url.PathEscape(args[0]) + "/reset"
			if err := a.client().do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			return a.render(resp, func(t *tablewriter.Table) {
				t.Header("Project", "Status", "Removed")
				_ = t.Append(resp.ProjectID, resp.Status, strconv.Itoa(resp.Removed))
			})
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the worker is doing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st queue.Status
			if err := a.client().do(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
				return err
			}
			return a.render(st, func(t *tablewriter.Table) {
				t.Header("Field", "Value")
				_ = t.Append("Running", strconv.FormatBool(st.Running))
				_ = t.Append("Unit", dash(st.UnitID))
				_ = t.Append("Project", dash(st.ProjectID))
				_ = t.Append("Clip", dash(st.ClipID))
				_ = t.Append("Pass", passLabel(st.PassIndex))
				_ = t.Append("Queue Depth", strconv.Itoa(st.QueueDepth))
				_ = t.Append("Last Completed", dash(st.LastCompleted))
			})
		},
	}
}

func newStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker and discard queued units",
		Long:  `Stop halts the unit in flight at its next checkpoint and discards every queued unit. Units queued afterwards run normally.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp server.StopResponse
			if err := a.client().do(cmd.Context(), http.MethodPost, "/stop", nil, &resp); err != nil {
				return err
			}
			return a.render(resp, func(t *tablewriter.Table) {
				t.Header("Discarded Units")
				_ = t.Append(strconv.Itoa(resp.Discarded))
			})
		},
	}
}

func newStitchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stitch <project>",
		Short: "Concatenate a project's clips into its final video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res stitch.Result
			path := "/projects/" + url.PathEscape(args[0]) + "/stitch"
			if err := a.client().do(cmd.Context(), http.MethodPost, path, nil, &res); err != nil {
				return err
			}
			return a.render(res, func(t *tablewriter.Table) {
				t.Header("Clip", "Source", "Path")
				for _, e := range res.Entries {
					_ = t.Append(e.ClipID, string(e.Source), e.Path)
				}
				for _, id := range res.Skipped {
					_ = t.Append(id, "skipped", "-")
				}
				t.Footer("Final", reusedLabel(res.Reused), res.Path)
			})
		},
	}
}

func newClipsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clips <project>",
		Short: "List a project's clips and whether they are done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.ClipsResponse
			path := "/projects/" + url.PathEscape(args[0]) + "/clips"
			if err := a.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return a.render(resp, func(t *tablewriter.Table) {
				t.Header("Clip", "Passes", "Done", "Substitute", "Intermediates")
				for _, c := range resp.Clips {
					_ = t.Append(c.ID, strconv.Itoa(c.Passes), strconv.FormatBool(c.Done), strconv.FormatBool(c.Substitute), strconv.Itoa(c.Intermediates))
				}
			})
		},
	}
}

func newUnitsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "units [unit-id]",
		Short: "Show queued, running and finished units",
		Long:  `Without an argument, list recent units. With a unit id, show that unit's per-clip outcome.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var u job.Job
				if err := a.client().do(cmd.Context(), http.MethodGet, "/units/"+url.PathEscape(args[0]), nil, &u); err != nil {
					return err
				}
				return a.render(u, func(t *tablewriter.Table) {
					t.Header("Clip", "State")
					for _, id := range u.ClipIDs {
						_ = t.Append(id, dash(u.Clips[id]))
					}
					t.Footer(u.ID, string(u.Status))
				})
			}

			path := "/units"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var units []job.Job
			if err := a.client().do(cmd.Context(), http.MethodGet, path, nil, &units); err != nil {
				return err
			}
			return a.render(units, func(t *tablewriter.Table) {
				t.Header("Unit", "Project", "Clips", "Status", "Created")
				for _, u := range units {
					_ = t.Append(u.ID, u.ProjectID, strings.Join(u.ClipIDs, ","), string(u.Status), u.CreatedAt.Format(time.RFC3339))
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of most recent units to list (0 for all)")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func passLabel(i int) string {
	if i == 0 {
		return "-"
	}
	return fmt.Sprintf("p%d", i)
}

func reusedLabel(reused bool) string {
	if reused {
		return "unchanged"
	}
	return "written"
}
