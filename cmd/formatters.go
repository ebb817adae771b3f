package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"lumen/backup"
	"lumen/core"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// outputAsJSON prints v as indented JSON to stdout.
func outputAsJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// renderUsersTable displays users in a formatted table.
func renderUsersTable(users []*core.User) {
	if len(users) == 0 {
		warningColor.Println("No users")
		return
	}

	headerColor.Println("USERS")
	headerColor.Println(strings.Repeat("=", 110))
	fmt.Printf("%-38s %-30s %-12s %-8s %-18s\n",
		"ID", "Email", "Role", "Active", "Last Login")
	fmt.Println(strings.Repeat("-", 110))

	for _, user := range users {
		active := "No"
		if user.Active {
			active = "Yes"
		}

		lastLogin := "Never"
		if user.LastLogin != nil {
			lastLogin = formatTimeSince(*user.LastLogin)
		}

		email := user.Email
		if len(email) > 29 {
			email = email[:26] + "..."
		}

		fmt.Printf("%-38s %-30s %-12s %-8s %-18s\n",
			user.ID, email, user.Role, active, lastLogin)
	}

	fmt.Println(strings.Repeat("=", 110))
}

// renderBackupsTable displays backup artifacts in a formatted table.
func renderBackupsTable(infos []backup.Info) {
	if len(infos) == 0 {
		warningColor.Println("No backups")
		return
	}

	headerColor.Println("BACKUPS")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-55s %-8s %-12s %-18s\n", "Name", "Kind", "Size", "Created")
	fmt.Println(strings.Repeat("-", 100))

	for _, info := range infos {
		fmt.Printf("%-55s %-8s %-12s %-18s\n",
			info.Name, info.Kind, formatSize(info.Size), formatTimeSince(info.CreatedAt))
	}

	fmt.Println(strings.Repeat("=", 100))
}

// renderBackupDetails displays the metadata and row counts of one artifact.
func renderBackupDetails(name string, envelope *backup.Envelope) {
	headerColor.Printf("Backup: %s\n", name)
	headerColor.Println(strings.Repeat("=", 60))
	printField("Kind", envelope.Metadata.Kind)
	printField("Created", envelope.Metadata.CreatedAt.Format(time.RFC3339))
	printField("Schema version", fmt.Sprintf("%d", envelope.Metadata.SchemaVersion))
	fmt.Println()
	headerColor.Println("Row counts")
	for table, count := range envelope.Metadata.Counts {
		printField(table, fmt.Sprintf("%d", count))
	}
}

func printField(label, value string) {
	fmt.Printf("  %-20s %s\n", label+":", value)
}

// formatTimeSince renders a timestamp as a human-readable age.
func formatTimeSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// formatSize renders a byte count in human units.
func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
