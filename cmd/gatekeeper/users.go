package main

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/authz"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

// newUsersCmd maintains the local allow/block stores directly.  Handy
// on a gate with no network and no dashboard access.
func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the local user stores",
	}
	cmd.AddCommand(
		newUsersAddCmd(),
		newUsersRemoveCmd(),
		newUsersBlockCmd(),
		newUsersUnblockCmd(),
		newUsersListCmd(),
	)
	return cmd
}

func openStore() (*authz.Store, error) {
	cfg := config.FromEnv()
	store := authz.NewStore(cfg.UsersFile(), cfg.BlockedFile())
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func newUsersAddCmd() *cobra.Command {
	var name, refID string
	cmd := &cobra.Command{
		Use:   "add <card>",
		Short: "Add or replace a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			rec := types.UserRecord{
				ID:         uuid.NewString(),
				RefID:      refID,
				Name:       name,
				CardNumber: args[0],
			}
			if err := store.Add(rec); err != nil {
				return err
			}
			fmt.Printf("added %s (%s)\n", rec.Name, rec.CardNumber)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name for the record")
	cmd.Flags().StringVar(&refID, "ref", "", "External reference ID")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newUsersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <card>",
		Short: "Remove a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func newUsersBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <card>",
		Short: "Put a card on the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Block(args[0]); err != nil {
				return err
			}
			fmt.Printf("blocked %s\n", args[0])
			return nil
		},
	}
}

func newUsersUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <card>",
		Short: "Take a card off the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Unblock(args[0]); err != nil {
				return err
			}
			fmt.Printf("unblocked %s\n", args[0])
			return nil
		},
	}
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all user records and blocked cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			users := store.Users()
			cards := make([]string, 0, len(users))
			for card := range users {
				cards = append(cards, card)
			}
			sort.Strings(cards)
			for _, card := range cards {
				fmt.Printf("%s\t%s\n", card, users[card].Name)
			}

			blocked := store.BlockedCards()
			sort.Strings(blocked)
			for _, card := range blocked {
				fmt.Printf("%s\t[blocked]\n", card)
			}
			return nil
		},
	}
}
