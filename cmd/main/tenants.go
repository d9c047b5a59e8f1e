package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	registerName  string
	registerEmail string

	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "Register a new application tenant",
		RunE:  runRegister,
	}

	rotateApp string

	rotateKeyCmd = &cobra.Command{
		Use:   "rotate-key",
		Short: "Rotate the API key for an application",
		RunE:  runRotateKey,
	}
)

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "application display name (required)")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "owner email")
	_ = registerCmd.MarkFlagRequired("name")

	rotateKeyCmd.Flags().StringVar(&rotateApp, "app", "", "application id (required)")
	_ = rotateKeyCmd.MarkFlagRequired("app")
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	creds, err := a.authService.Register(registerName, registerEmail)
	if err != nil {
		return err
	}
	fmt.Printf("Application registered.\n")
	fmt.Printf("  app_id:  %s\n", creds.AppID)
	fmt.Printf("  api_key: %s\n", creds.APIKey)
	fmt.Println("Store the key now; only its hash is kept.")
	return nil
}

func runRotateKey(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	newKey, err := a.authService.RotateKey(rotateApp)
	if err != nil {
		return err
	}
	fmt.Printf("Key rotated for %s.\n", rotateApp)
	fmt.Printf("  api_key: %s\n", newKey)
	return nil
}
