package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	islandhttp "github.com/fyrsmithlabs/islandd/internal/http"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check islandd server health",
		Long: `Check the health status of the islandd HTTP server.

Examples:
  # Check health
  islandctl health

  # Check health on a different server
  islandctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp islandhttp.HealthResponse
			if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
			fmt.Fprintf(out, "Server URL: %s\n", c.serverURL)
			for name, status := range resp.Services {
				fmt.Fprintf(out, "  %s: %s\n", name, status)
			}
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	var (
		sourceKind string
		global     bool
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "sync <project>/<dataset> <root>",
		Short: "Sync a source tree into its dataset partition",
		Long: `Sync a source tree into the partition of project/dataset. Only files
whose content changed since the last run are re-embedded.

The root is resolved on the server. When another sync of the same dataset
is running the command fails unless --wait is given.

Examples:
  # Sync a checkout
  islandctl sync acme/backend /srv/checkouts/backend

  # Sync docs and make them visible to every project
  islandctl sync acme/handbook /srv/docs --source-kind docs --global`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, dataset, err := parseScope(args[0], false)
			if err != nil {
				return err
			}
			var resp islandhttp.SyncResponse
			err = c.do(http.MethodPost, "/api/v1/sync", islandhttp.SyncRequest{
				Project:    project,
				Dataset:    dataset,
				Root:       args[1],
				SourceKind: sourceKind,
				Global:     global,
				Wait:       wait,
			}, &resp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sync %s: %s (%dms)\n", resp.RunID, resp.Status, resp.DurationMS)
			fmt.Fprintf(out, "  Partition: %s\n", resp.Partition)
			fmt.Fprintf(out, "  Files: %d created, %d modified, %d deleted, %d renamed, %d unchanged\n",
				resp.Created, resp.Modified, resp.Deleted, resp.Renamed, resp.Unchanged)
			fmt.Fprintf(out, "  Chunks: %d added, %d removed\n", resp.ChunksAdded, resp.ChunksRemoved)
			for _, f := range resp.Failures {
				fmt.Fprintf(out, "  ! %s %s: %s\n", f.Op, f.Path, f.Err)
			}
			if resp.Error != "" {
				return fmt.Errorf("sync %s: %s", resp.Status, resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceKind, "source-kind", "", "source kind recorded on every chunk (code, docs, ...)")
	cmd.Flags().BoolVar(&global, "global", false, "mark the dataset as global")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a running sync of the same dataset instead of failing")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		limit         int
		includeGlobal bool
	)
	cmd := &cobra.Command{
		Use:   "search <project>[/<dataset>] <query>",
		Short: "Search the partitions visible to a scope",
		Long: `Search a single dataset, or every dataset a project can see when the
dataset is omitted (its own, those shared with it and, with
--include-global, global ones).

Examples:
  # Search one dataset
  islandctl search acme/backend "retry with backoff"

  # Search everything acme can see
  islandctl search acme "retry with backoff" --include-global --limit 20`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, dataset, err := parseScope(args[0], true)
			if err != nil {
				return err
			}
			var resp islandhttp.SearchResponse
			err = c.do(http.MethodPost, "/api/v1/search", islandhttp.SearchRequest{
				Project:       project,
				Dataset:       dataset,
				Query:         strings.Join(args[1:], " "),
				Limit:         limit,
				IncludeGlobal: includeGlobal,
			}, &resp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Fallback {
				fmt.Fprintln(out, "(no partition matched the scope exactly; showing fallback results)")
			}
			if len(resp.Failed) > 0 {
				fmt.Fprintf(out, "(partial results: %s failed)\n", strings.Join(resp.Failed, ", "))
			}
			if len(resp.Hits) == 0 {
				fmt.Fprintln(out, "No results")
				return nil
			}
			for i, h := range resp.Hits {
				fmt.Fprintf(out, "%2d. %.3f  %s:%d-%d  [%s]\n", i+1, h.Score, h.Payload.Path, h.Payload.StartLine, h.Payload.EndLine, h.Partition)
				if line := firstLine(h.Payload.Content); line != "" {
					fmt.Fprintf(out, "      %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of hits (server default when 0)")
	cmd.Flags().BoolVar(&includeGlobal, "include-global", false, "also search global datasets")
	return cmd
}

func (c *cli) partitionsCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "List partitions and their point counts",
		Long: `List every partition, or only those owned by one project.

Examples:
  islandctl partitions
  islandctl partitions --project acme`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/partitions"
			if project != "" {
				path += "?project=" + url.QueryEscape(project)
			}
			var resp islandhttp.PartitionsResponse
			if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROJECT\tDATASET\tPARTITION\tBACKEND\tDIM\tPOINTS\tLAST INDEXED")
			for _, p := range resp.Partitions {
				indexed := "-"
				if p.LastIndexedAt != nil {
					indexed = p.LastIndexedAt.Format(time.RFC3339)
				}
				name := p.Name
				if p.Legacy {
					name += " (legacy)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", p.Project, p.Dataset, name, p.Backend, p.Dimension, p.PointCount, indexed)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d partitions, %d points, %d projects, %d legacy\n",
				resp.Counts.Partitions, resp.Counts.Points, resp.Counts.Projects, resp.Counts.Legacy)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "only list partitions owned by this project")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile recorded point counts with the vector backend",
		Long: `Compare every partition's recorded point count with the backend,
correct drift, recreate missing partitions and report orphans.

Examples:
  islandctl reconcile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp islandhttp.ReconcileResponse
			if err := c.do(http.MethodPost, "/api/v1/reconcile", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d partitions\n", resp.Checked)
			for _, d := range resp.Drift {
				fmt.Fprintf(out, "  drift %s: recorded %d, actual %d\n", d.Partition, d.Recorded, d.Actual)
			}
			for _, name := range resp.Recreated {
				fmt.Fprintf(out, "  recreated %s\n", name)
			}
			for _, name := range resp.Orphans {
				fmt.Fprintf(out, "  orphan %s\n", name)
			}
			if resp.Error != "" {
				return fmt.Errorf("reconcile incomplete: %s", resp.Error)
			}
			return nil
		},
	}
}

func (c *cli) shareCmd() *cobra.Command {
	var (
		canWrite bool
		ttl      time.Duration
		revoke   bool
	)
	cmd := &cobra.Command{
		Use:   "share <project>/<dataset> <grantee-project>",
		Short: "Share a dataset with another project",
		Long: `Grant another project read access to a dataset, or revoke it.

Examples:
  # Let the web project search acme/backend for a week
  islandctl share acme/backend web --ttl 168h

  # Revoke it again
  islandctl share acme/backend web --revoke`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, dataset, err := parseScope(args[0], false)
			if err != nil {
				return err
			}
			req := islandhttp.ShareRequest{
				Project:  project,
				Dataset:  dataset,
				Grantee:  args[1],
				CanWrite: canWrite,
				Revoke:   revoke,
			}
			if ttl > 0 {
				expires := time.Now().Add(ttl).UTC()
				req.Expires = &expires
			}
			var resp islandhttp.ShareResponse
			if err := c.do(http.MethodPost, "/api/v1/shares", req, &resp, http.StatusOK, http.StatusCreated); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.Revoked {
				fmt.Fprintf(out, "Revoked %s from %s\n", args[0], args[1])
				return nil
			}
			fmt.Fprintf(out, "Shared %s with %s", args[0], args[1])
			if resp.ExpiresAt != nil {
				fmt.Fprintf(out, " until %s", resp.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&canWrite, "write", false, "also allow the grantee to sync into the dataset")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the grant after this long (never when 0)")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "revoke the grant instead of creating it")
	return cmd
}

func (c *cli) updateCmd() *cobra.Command {
	var (
		displayProject string
		displayDataset string
		global         bool
	)
	cmd := &cobra.Command{
		Use:   "update <project>/<dataset>",
		Short: "Rename a dataset's display names or change its visibility",
		Long: `Update the human-readable names shown for a dataset, or mark it global.
Renaming never moves data; the partition keeps its name.

Examples:
  islandctl update acme/backend --display-dataset "Backend API"
  islandctl update acme/handbook --global=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, dataset, err := parseScope(args[0], false)
			if err != nil {
				return err
			}
			update := islandhttp.DatasetUpdate{DisplayProject: displayProject, DisplayDataset: displayDataset}
			if cmd.Flags().Changed("global") {
				update.Global = &global
			}
			if update.DisplayProject == "" && update.DisplayDataset == "" && update.Global == nil {
				return fmt.Errorf("nothing to update: set --display-project, --display-dataset or --global")
			}
			var resp islandhttp.PartitionInfo
			if err := c.do(http.MethodPatch, datasetPath(project, dataset), update, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: now shown as %s/%s\n", resp.Name, resp.Project, resp.Dataset)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayProject, "display-project", "", "new display name for the project")
	cmd.Flags().StringVar(&displayDataset, "display-dataset", "", "new display name for the dataset")
	cmd.Flags().BoolVar(&global, "global", false, "make the dataset visible to every project")
	return cmd
}

func (c *cli) projectCmd() *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "project <project>",
		Short: "Change a project's visibility",
		Long: `Mark a project global so every one of its datasets is searchable from
other projects that pass --include-global.

Examples:
  islandctl project docs --global=true
  islandctl project docs --global=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("global") {
				return fmt.Errorf("nothing to update: set --global")
			}
			project, dataset, err := parseScope(args[0], true)
			if err != nil {
				return err
			}
			if dataset != "" {
				return fmt.Errorf("invalid project %q: use update for a dataset", args[0])
			}
			var resp islandhttp.ProjectInfo
			path := "/api/v1/projects/" + url.PathEscape(project)
			if err := c.do(http.MethodPatch, path, islandhttp.ProjectUpdate{Global: &global}, &resp); err != nil {
				return err
			}
			visibility := "private"
			if resp.Global {
				visibility = "global"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s is now %s\n", resp.Name, visibility)
			return nil
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "make every dataset of the project visible to other projects")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <project>/<dataset>",
		Short: "Delete a dataset and its partition",
		Long: `Delete a dataset's partition, its vectors, its sync state and its shares.
This cannot be undone.

Examples:
  islandctl delete acme/old-service --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, dataset, err := parseScope(args[0], false)
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			if err := c.do(http.MethodDelete, datasetPath(project, dataset), nil, nil, http.StatusNoContent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func datasetPath(project, dataset string) string {
	return "/api/v1/datasets/" + url.PathEscape(project) + "/" + url.PathEscape(dataset)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return line
}
