package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corpora-labs/corpusd/internal/repository"
	"github.com/corpora-labs/corpusd/internal/service"
	"github.com/spf13/cobra"
)

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list, and revoke API keys",
	}

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Create a new API key for a user",
		RunE:  runAPIKeyCreate,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("name", "n", "", "API key name (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	userID, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	authSvc := service.NewAuthService(userRepo, apiKeyRepo, &service.DefaultUUIDGenerator{})

	token, err := authSvc.CreateAPIKey(ctx, userID, name)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"name":  name,
			"user":  userID,
			"token": token,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("API key created for user %s\n", userID)
		fmt.Printf("Key Name: %s\n", name)
		fmt.Printf("Token: %s\n", token)
		fmt.Println("\nSave this token now. You won't be able to see it again!")
	}

	return nil
}

func APIKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for a user",
		Long:  "List all API keys for a specific user",
		RunE:  runAPIKeyList,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	userID, _ := cmd.Flags().GetString("user")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	keys, err := apiKeyRepo.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(keys))
		for i, key := range keys {
			data[i] = map[string]interface{}{
				"id":         key.ID,
				"name":       key.Name,
				"user_id":    key.UserID,
				"created_at": key.CreatedAt,
				"revoked_at": key.RevokedAt,
				"revoked":    key.IsRevoked(),
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(keys) == 0 {
			fmt.Printf("No API keys found for user %s\n", userID)
			return nil
		}
		fmt.Printf("API keys for user %s:\n", userID)
		for _, key := range keys {
			status := "active"
			if key.IsRevoked() {
				status = "revoked"
			}
			fmt.Printf("  %s: %s (%s, created: %s)\n", key.ID, key.Name, status, key.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key by its ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runAPIKeyRevoke,
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")

	return cmd
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	keyID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	if err := apiKeyRepo.Revoke(ctx, keyID); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":      keyID,
			"revoked": true,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("API key %s revoked successfully\n", keyID)
	}

	return nil
}
