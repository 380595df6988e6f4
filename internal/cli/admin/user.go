package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corpora-labs/corpusd/internal/config"
	"github.com/corpora-labs/corpusd/internal/repository"
	"github.com/corpora-labs/corpusd/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func UserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Create users that own documents and API keys",
	}

	cmd.AddCommand(UserCreateCmd())

	return cmd
}

func UserCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new user",
		Long:  "Create a new user with the specified name",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserCreate,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	name := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)
	authSvc := service.NewAuthService(userRepo, nil, &service.DefaultUUIDGenerator{})

	user, err := authSvc.CreateUser(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":         user.ID,
			"name":       user.Name,
			"created_at": user.CreatedAt,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("User created: %s (%s)\n", user.Name, user.ID)
	}

	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
