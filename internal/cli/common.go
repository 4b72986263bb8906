// Package cli holds the small pieces of boilerplate shared by the
// demo command-line tools (cmd/shmq-writer, cmd/shmq-reader): version
// reporting and a consistent error-exit path. Adapted from the
// teacher's internal/cli/common.go, trimmed to what two single-command
// tools need — no multi-command usage tables, no on-disk CLI config.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/orizon-lang/shmqueue/internal/registry"
)

// VersionInfo is the structured payload PrintVersion emits in --json
// mode.
type VersionInfo struct {
	Tool          string `json:"tool"`
	EngineVersion string `json:"engine_version"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
	Arch          string `json:"arch"`
}

// PrintVersion prints version information for toolName, as JSON if
// jsonOutput is set.
func PrintVersion(toolName string, jsonOutput bool) {
	info := VersionInfo{
		Tool:          toolName,
		EngineVersion: registry.EngineVersion,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS,
		Arch:          runtime.GOARCH,
	}

	if jsonOutput {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to marshal version info: %v\n", err)
			return
		}

		fmt.Println(string(data))

		return
	}

	fmt.Printf("%s v%s\n", toolName, info.EngineVersion)
	fmt.Printf("Go Version: %s\n", info.GoVersion)
	fmt.Printf("Platform: %s/%s\n", info.Platform, info.Arch)
}

// ExitWithError prints an error message to stderr and exits with
// status 1.
func ExitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
