package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/agentdeck/pkg/client"
)

func createLsCommand(global *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ls <agent-id> [path]",
		Short: "List a directory in the agent's workspace",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			dir := ""
			if len(args) > 1 {
				dir = args[1]
			}
			fl, err := c.ListFiles(ctx(cmd), args[0], dir)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), fl)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range fl.Files {
				name := f.RelativePath
				size := fmt.Sprint(f.Size)
				if f.IsDirectory {
					name += "/"
					size = "-"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", size, f.LastModified.Format("2006-01-02 15:04"), name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func createCatCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <agent-id> <path>",
		Short: "Print a file from the agent's workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			content, err := c.ReadFile(ctx(cmd), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}
}

func createPutCommand(global *GlobalFlags) *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "put <agent-id> <path> [local-file|-]",
		Short: "Write a file in the agent's workspace",
		Long: `Write a file in the agent's workspace from a local file, or from stdin
when the source is "-" or omitted. With --upload, <path> is a directory
and every following argument is uploaded into it, keeping its relative path.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			id, target, sources := args[0], args[1], args[2:]
			if upload {
				return uploadFiles(cmd, c, id, target, sources)
			}
			if len(sources) > 1 {
				return fmt.Errorf("put takes one source; use --upload for several")
			}
			var r io.Reader = cmd.InOrStdin()
			if len(sources) == 1 && sources[0] != "-" {
				f, err := os.Open(filepath.Clean(sources[0]))
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			b, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			return c.WriteFile(ctx(cmd), id, target, string(b))
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "upload local files into the directory <path>")
	return cmd
}

func uploadFiles(cmd *cobra.Command, c *client.Client, id, dir string, sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("nothing to upload")
	}
	files := make([]client.UploadFile, 0, len(sources))
	for _, src := range sources {
		f, err := os.Open(filepath.Clean(src))
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		rel := filepath.ToSlash(filepath.Clean(src))
		if filepath.IsAbs(src) || strings.HasPrefix(rel, "../") {
			rel = filepath.Base(src)
		}
		files = append(files, client.UploadFile{RelativePath: rel, Content: f})
	}
	res, err := c.Upload(ctx(cmd), id, dir, files)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, res.Message)
	for _, f := range res.Failures {
		_, _ = fmt.Fprintf(out, "  %s: %s\n", f.Path, f.Error)
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d file(s) failed", len(res.Failures))
	}
	return nil
}

func createRmCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <agent-id> <path>",
		Short: "Delete a file or directory (recursively) in the agent's workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			return c.DeleteFile(ctx(cmd), args[0], args[1])
		},
	}
}

func createMkdirCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <agent-id> <path>",
		Short: "Create a directory in the agent's workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			dir, name := splitEntry(args[1])
			return c.CreateFolder(ctx(cmd), args[0], dir, name)
		},
	}
}

func createTouchCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <agent-id> <path>",
		Short: "Create an empty file in the agent's workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			dir, name := splitEntry(args[1])
			return c.CreateFile(ctx(cmd), args[0], dir, name)
		},
	}
}

// splitEntry splits "a/b/c" into ("a/b", "c").
func splitEntry(p string) (string, string) {
	p = strings.Trim(filepath.ToSlash(p), "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
