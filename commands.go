package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nostr-feed/internal/nips"
	"nostr-feed/internal/profiles"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/session"
	"nostr-feed/internal/util"
)

var (
	commentsLimit int
	commentsAll   bool
	commentsCount bool
)

var commentsCmd = &cobra.Command{
	Use:   "comments <event-id|note>",
	Short: "Show the comment threads on an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := nips.ToHex(args[0], "note")
		if err != nil {
			return fmt.Errorf("invalid event id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			switch {
			case commentsAll:
				return printJSON(cmd, a.comments.AllComments(ctx, id))
			case commentsCount:
				// Count after a fetch so a fresh process has something local
				a.comments.AllComments(ctx, id)
				return printJSON(cmd, CountResponse{ID: id, Count: a.comments.LocalCommentCount(id)})
			default:
				return printJSON(cmd, a.comments.TopLevelComments(ctx, id, commentsLimit))
			}
		})
	},
}

var profileRelays []string

var profileCmd = &cobra.Command{
	Use:   "profile <pubkey|npub>...",
	Short: "Resolve kind 0 profiles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkeys := make([]string, 0, len(args))
		for _, arg := range args {
			pk, err := nips.ToHex(arg, "npub")
			if err != nil {
				return fmt.Errorf("invalid pubkey %q: %w", arg, err)
			}
			pubkeys = append(pubkeys, pk)
		}

		return withApp(cmd, func(ctx context.Context, a *App) error {
			type outcome struct {
				PubKey  string      `json:"pubkey"`
				Profile interface{} `json:"profile"`
				Error   string      `json:"error,omitempty"`
			}
			results := make([]outcome, len(pubkeys))
			var g errgroup.Group
			for i, pk := range pubkeys {
				g.Go(func() error {
					res, err := a.profiles.Request(ctx, profiles.ProfileRequest{PubKey: pk, Relays: profileRelays})
					results[i] = outcome{PubKey: pk}
					if err != nil {
						results[i].Error = err.Error()
						return nil
					}
					results[i].Profile = res.Profile
					return nil
				})
			}
			g.Wait()
			return printJSON(cmd, results)
		})
	},
}

var reactionsCmd = &cobra.Command{
	Use:   "reactions <event-id|note>",
	Short: "Show the emoji reactions to an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := nips.ToHex(args[0], "note")
		if err != nil {
			return fmt.Errorf("invalid event id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			return printJSON(cmd, a.reactions.EmojiReactions(ctx, id, true))
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <event-id|note> [emoji]",
	Short: "Toggle your emoji reaction on an event",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := nips.ToHex(args[0], "note")
		if err != nil {
			return fmt.Errorf("invalid event id: %w", err)
		}
		emoji := "+"
		if len(args) == 2 {
			emoji = args[1]
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			// Membership is read from the repository, so load current reactions first
			a.reactions.EmojiReactions(ctx, id, true)
			result, err := a.reactions.Toggle(ctx, id, emoji)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.String())
			return nil
		})
	},
}

var (
	roomsLimit  int
	roomsSearch string
	roomsCounts bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List or search public chat rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			list := a.rooms.Rooms(ctx, 0)
			if roomsSearch != "" {
				list = a.rooms.Search(ctx, roomsSearch, roomsLimit)
			} else {
				list = util.LimitSlice(list, roomsLimit)
			}
			if roomsCounts {
				if err := a.rooms.PopulateMessageCounts(ctx, list, nil); err != nil {
					return err
				}
			}
			return printJSON(cmd, list)
		})
	},
}

var (
	relaysPreferSearch bool
	relaysLimit        int
)

var relaysCmd = &cobra.Command{
	Use:   "relays",
	Short: "Show the relays selected for queries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			if err := a.info.RefreshSearchCapability(ctx, a.router); err != nil {
				return err
			}
			return printJSON(cmd, a.router.RelayURLs(relay.SelectOptions{PreferSearch: relaysPreferSearch, Limit: relaysLimit}))
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [nsec|hex]",
	Short: "Store your secret key in the OS keyring",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			fmt.Fprint(cmd.ErrOrStderr(), "secret key (nsec or hex): ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return err
			}
			key = strings.TrimSpace(line)
		}

		signer, err := session.StoreKey(key)
		if err != nil {
			return err
		}
		npub, err := nips.Encode("npub", signer.PubKey())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged in as", npub)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove your secret key from the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return session.EraseKey()
	},
}

func init() {
	commentsCmd.Flags().IntVar(&commentsLimit, "limit", 3, "number of top-level threads")
	commentsCmd.Flags().BoolVar(&commentsAll, "all", false, "list every comment oldest first")
	commentsCmd.Flags().BoolVar(&commentsCount, "count", false, "print the comment count")
	profileCmd.Flags().StringSliceVar(&profileRelays, "relay", nil, "relay hints tried first")
	roomsCmd.Flags().IntVar(&roomsLimit, "limit", 0, "maximum rooms to print")
	roomsCmd.Flags().StringVar(&roomsSearch, "search", "", "fuzzy search term")
	roomsCmd.Flags().BoolVar(&roomsCounts, "counts", false, "fetch message counts")
	relaysCmd.Flags().BoolVar(&relaysPreferSearch, "prefer-search", false, "weight search relays first")
	relaysCmd.Flags().IntVar(&relaysLimit, "limit", 0, "number of relays")
}
