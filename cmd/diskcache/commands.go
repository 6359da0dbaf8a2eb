package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/agentuity/diskcache/cache"
	"github.com/agentuity/diskcache/sys"
	"github.com/agentuity/diskcache/timeutil"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

func newAddCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add KEY VALUE",
		Short: "Add an entry, failing if the key is already present. Use - as VALUE to read stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expires, err := expiresFromFlags(cmd)
			if err != nil {
				return err
			}
			val := []byte(args[1])
			if args[1] == "-" {
				if val, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return errors.Wrap(err, "read stdin")
				}
			}
			ok, err := a.manager.Add(cmd.Context(), args[0], val, expires)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", args[0], errKeyExists)
				return errKeyExists
			}
			return nil
		},
	}
	cmd.Flags().String("ttl", "", "lifetime of the entry, e.g. 90s, 5m, 1d")
	cmd.Flags().String("expires", "", "absolute expiry, RFC3339 or YYYYMMDDHHMM (UTC)")
	cmd.MarkFlagsMutuallyExclusive("ttl", "expires")
	return cmd
}

func expiresFromFlags(cmd *cobra.Command) (time.Time, error) {
	if ttl, _ := cmd.Flags().GetString("ttl"); ttl != "" {
		d, err := str2duration.ParseDuration(ttl)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid --ttl %q", ttl)
		}
		return timeutil.Now().Add(d), nil
	}
	if at, _ := cmd.Flags().GetString("expires"); at != "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			return t.UTC(), nil
		}
		t, err := timeutil.ParseYYYYMMDDHHMM(at, "")
		if err != nil {
			return time.Time{}, errors.Newf("invalid --expires %q, want RFC3339 or YYYYMMDDHHMM", at)
		}
		return t, nil
	}
	return time.Time{}, nil
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Write the payload stored under KEY to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, val, err := a.manager.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", args[0], errNotFound)
				return errNotFound
			}
			_, err = cmd.OutOrStdout().Write(val)
			return err
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY...",
		Aliases: []string{"remove"},
		Short:   "Remove entries",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range args {
				if err := a.manager.Remove(cmd.Context(), key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [PREFIX]",
		Aliases: []string{"keys"},
		Short:   "List keys starting with PREFIX",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix string
			if len(args) > 0 {
				prefix = args[0]
			}
			keys, err := a.manager.Keys(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func newSweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			started := time.Now()
			n, err := a.manager.ExpireItems(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries in %.3fs\n", n, timeutil.Elapsed(started))
			return nil
		},
	}
}

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show where the cache lives and how much space it uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := a.manager.CachePath()
			fmt.Fprintf(out, "store:  %s\n", a.manager.StoreType())
			fmt.Fprintf(out, "path:   %s\n", path)
			switch a.manager.StoreType() {
			case cache.StoreFile, cache.StoreSQLite:
			default:
				return nil
			}
			files, size, err := sys.DirSize(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "files:  %d\n", files)
			fmt.Fprintf(out, "size:   %d bytes\n", size)
			if !sys.Exists(path) {
				return nil
			}
			usage, err := sys.GetDiskUsage(path)
			if err != nil {
				a.log.Warn("%s", err)
				return nil
			}
			fmt.Fprintf(out, "disk:   %d of %d bytes free (%.1f%% used, %s)\n", usage.Free, usage.Total, usage.UsedPercent, usage.Fstype)
			return nil
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the cache open and sweep expired entries until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.manager.Cache(); err != nil {
				return err
			}
			a.log.Info("sweeping %s every %s, press Ctrl+C to stop", a.manager.CachePath(), time.Duration(a.cfg.ExpiryCheck))
			done := sys.CreateShutdownChannel()
			select {
			case sig := <-done:
				a.log.Info("received %s, shutting down", sig)
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}
