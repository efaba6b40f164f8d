package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chadiek/mio/internal/subscription"
)

var subscriptionFile string

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Show the saved premium subscription",
	Long: `Print the subscription record written when the payment widget
approved a premium subscription.`,
	RunE: runSubscription,
}

func init() {
	subscriptionCmd.Flags().StringVar(&subscriptionFile, "file", "", "record path (defaults to SUBSCRIPTION_FILE or ~/.mio_subscription.json)")
}

func runSubscription(cmd *cobra.Command, args []string) error {
	path, err := subscriptionPath()
	if err != nil {
		return err
	}
	rec, err := subscription.NewFileStore(path).Load()
	if errors.Is(err, subscription.ErrNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "No premium subscription saved at %s\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading subscription record: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subscription: %s\n", rec.SubscriptionID)
	if at, err := rec.Time(); err == nil {
		fmt.Fprintf(out, "Activated:    %s\n", at.Local().Format(time.RFC1123))
	} else {
		fmt.Fprintf(out, "Activated:    %s\n", rec.Timestamp)
	}
	return nil
}

func subscriptionPath() (string, error) {
	if subscriptionFile != "" {
		return subscriptionFile, nil
	}
	_ = godotenv.Load()
	if p := os.Getenv("SUBSCRIPTION_FILE"); p != "" {
		return p, nil
	}
	p, err := subscription.DefaultPath()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return p, nil
}
