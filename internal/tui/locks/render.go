package locks

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"

	"github.com/orchestkit/ork-coord/internal/coordination"
)

// LockRows returns one row per lock: path, instance, held for, expires in.
func LockRows(st coordination.Status, now time.Time) [][]string {
	rows := make([][]string, 0, len(st.Locks))
	for _, l := range st.Locks {
		rows = append(rows, []string{
			l.FilePath,
			instanceLabel(l.InstanceID, st.InstanceID),
			FormatAge(now.Sub(l.AcquiredAt)),
			FormatRemaining(l.ExpiresAt, now),
		})
	}
	return rows
}

// ClaimRows returns one row per claim: task, instance, claimed for, expires in.
func ClaimRows(st coordination.Status, now time.Time) [][]string {
	rows := make([][]string, 0, len(st.Claims))
	for _, c := range st.Claims {
		rows = append(rows, []string{
			c.TaskID,
			instanceLabel(c.InstanceID, st.InstanceID),
			FormatAge(now.Sub(c.ClaimedAt)),
			FormatRemaining(c.ExpiresAt, now),
		})
	}
	return rows
}

const youSuffix = " (you)"

func instanceLabel(id, self string) string {
	if self != "" && id == self {
		return id + youSuffix
	}
	return id
}

// RenderStatus renders st as bordered tables for non-interactive output.
func RenderStatus(st coordination.Status, now time.Time) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Coordination"))
	b.WriteString(" ")
	b.WriteString(mutedStyle.Render(st.Dir))
	b.WriteString("\n")
	if !st.Enabled {
		b.WriteString(warningStyle.Render("coordination disabled: run `ork-coord init`"))
		b.WriteString("\n")
	}
	if st.InstanceID != "" {
		b.WriteString(mutedStyle.Render("instance: "))
		b.WriteString(ownStyle.Render(st.InstanceID))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(RenderLocks(st, now))
	b.WriteString("\n")
	b.WriteString(RenderClaims(st, now))
	return b.String()
}

// RenderLocks renders the file lock table of st.
func RenderLocks(st coordination.Status, now time.Time) string {
	return section(fmt.Sprintf("File locks (%d)", len(st.Locks)),
		[]string{"PATH", "INSTANCE", "HELD", "EXPIRES IN"}, LockRows(st, now))
}

// RenderClaims renders the work claim table of st.
func RenderClaims(st coordination.Status, now time.Time) string {
	return section(fmt.Sprintf("Work claims (%d)", len(st.Claims)),
		[]string{"TASK", "INSTANCE", "CLAIMED", "EXPIRES IN"}, ClaimRows(st, now))
}

func section(title string, headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return titleStyle.Render(title) + "\n" + mutedStyle.Render("  none") + "\n"
	}
	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(rows) && strings.HasSuffix(rows[row][1], youSuffix) {
				return cellStyle.Foreground(secondaryColor)
			}
			return cellStyle
		})
	return titleStyle.Render(title) + "\n" + t.String() + "\n"
}
