// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/mesh/pkg/identity"
)

// storedKey is the keyring record for one agent identity.
type storedKey struct {
	DID        string `json:"did"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage agent identity keys",
	Long: heredoc.Doc(`
		Generate and manage agent signing keys. Private keys are stored
		in the system keyring (Keychain on macOS, Credential Manager on
		Windows, Secret Service on Linux), never in config files.
	`),
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate [agent-id]",
	Short: "Generate a fresh identity and store it in the keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysGenerate,
}

var keysShowCmd = &cobra.Command{
	Use:   "show [agent-id]",
	Short: "Show the stored identity's DID and public key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysShow,
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete [agent-id]",
	Short: "Delete the stored identity from the keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysDelete,
}

func init() {
	keysCmd.AddCommand(keysGenerateCmd, keysShowCmd, keysDeleteCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	agentID := args[0]
	if _, err := keyring.Get(ServiceName, agentID); err == nil {
		return fmt.Errorf("an identity for %s already exists; delete it first", agentID)
	}

	ident, err := identity.NewKeyBased()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	record, err := json.Marshal(storedKey{
		DID:        ident.DID,
		PublicKey:  ident.PublicKeyPEM,
		PrivateKey: ident.PrivateKeyPEM,
	})
	if err != nil {
		return err
	}
	if err := keyring.Set(ServiceName, agentID, string(record)); err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}

	fmt.Printf("Generated identity for %s\n", agentID)
	fmt.Printf("DID: %s\n", ident.DID)
	fmt.Printf("Public key:\n%s", ident.PublicKeyPEM)
	return nil
}

func runKeysShow(cmd *cobra.Command, args []string) error {
	agentID := args[0]
	raw, err := keyring.Get(ServiceName, agentID)
	if err != nil {
		return fmt.Errorf("no stored identity for %s: %w", agentID, err)
	}

	var record storedKey
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("stored identity for %s is corrupt: %w", agentID, err)
	}

	fmt.Printf("DID: %s\n", record.DID)
	fmt.Printf("Public key:\n%s", record.PublicKey)
	return nil
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	agentID := args[0]
	if err := keyring.Delete(ServiceName, agentID); err != nil {
		return fmt.Errorf("failed to delete identity for %s: %w", agentID, err)
	}
	fmt.Printf("Deleted identity for %s\n", agentID)
	return nil
}
