package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/Towa/common/crypto"
	"github.com/bdobrica/Towa/common/environment"
	"github.com/bdobrica/Towa/common/version"
	"github.com/bdobrica/Towa/internal/towa/app"
	"github.com/bdobrica/Towa/internal/towa/matrix"
	"github.com/bdobrica/Towa/internal/towa/taskrunner"
)

func main() {
	fmt.Printf("Towa AWX Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	towa, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Towa: %v\n", err)
		os.Exit(1)
	}
	defer towa.Stop()

	if err := towa.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Towa: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration from the environment.
func loadConfig() (*app.Config, error) {
	homeserver, err := environment.RequiredString("TOWA_MATRIX_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("TOWA_MATRIX_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("TOWA_MATRIX_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}
	opsRooms := environment.StringSliceOr("TOWA_MATRIX_OPS_ROOMS", nil)
	if len(opsRooms) == 0 {
		return nil, fmt.Errorf("TOWA_MATRIX_OPS_ROOMS is required")
	}

	masterKeyHex, err := environment.RequiredString("TOWA_MASTER_KEY")
	if err != nil {
		return nil, fmt.Errorf("%w (generate one with: openssl rand -hex 32)", err)
	}
	masterKey, err := crypto.ParseMasterKey(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("TOWA_MASTER_KEY: %w", err)
	}

	return &app.Config{
		DatabasePath: environment.StringOr("TOWA_DB_PATH", "./towa.db"),
		MasterKey:    masterKey,
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
			OpsRooms:    opsRooms,
		},
		AllowedSenders: environment.StringSliceOr("TOWA_ALLOWED_SENDERS", nil),
		TaskRunner:     taskrunner.ConfigFromEnv(),
	}, nil
}
