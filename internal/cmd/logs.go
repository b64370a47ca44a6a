package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the coordination log",
	Long: `View and filter coord.log, the record of lock decisions shared by every
instance of the project.

Examples:
  # Show the last 50 entries
  ork-coord logs

  # Show everything one instance did
  ork-coord logs --instance repo-main-0314-0900-a1b2 -n 0

  # Follow new entries
  ork-coord logs -f

  # Denials and failures from the last hour
  ork-coord logs --level warn --since 1h`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntP("tail", "n", 50, "number of entries to show (0 for all)")
	logsCmd.Flags().BoolP("follow", "f", false, "follow log output (like tail -f)")
	logsCmd.Flags().String("level", "", "minimum level (debug/info/warn/error)")
	logsCmd.Flags().String("since", "", "only entries newer than this duration (e.g., 1h, 30m)")
	logsCmd.Flags().String("grep", "", "only entries matching this pattern (regex)")
	logsCmd.Flags().String("instance", "", "only entries of this instance")
}

// logEntry is one parsed line of coord.log.
type logEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Msg        string         `json:"msg"`
	Project    string         `json:"project,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	Extra      map[string]any `json:"-"`
}

// UnmarshalJSON keeps the fields without a struct field in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "project", "session_id", "instance_id"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects entries for display.
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	instance string
}

// levelPriority orders levels for --level; unknown levels sort first.
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func (f logFilter) match(e *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(e.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && e.Time.Before(f.since) {
		return false
	}
	if f.instance != "" && e.InstanceID != f.instance && e.Extra["holder"] != f.instance {
		return false
	}
	if f.grep != nil {
		text := e.Msg
		for _, v := range e.Extra {
			text += " " + fmt.Sprint(v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

// logFormatter renders entries, in color when writing to a terminal.
type logFormatter struct {
	time, key *color.Color
	levels    map[string]*color.Color
}

func newLogFormatter(w io.Writer) logFormatter {
	if !logging.SupportsColor(w) {
		return logFormatter{}
	}
	return logFormatter{
		time: color.New(color.FgHiBlack),
		key:  color.New(color.FgCyan),
		levels: map[string]*color.Color{
			logging.LevelDebug: color.New(color.FgHiBlack),
			logging.LevelInfo:  color.New(color.FgBlue),
			logging.LevelWarn:  color.New(color.FgYellow),
			logging.LevelError: color.New(color.FgRed, color.Bold),
		},
	}
}

func paint(c *color.Color, s string) string {
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

func (f logFormatter) format(e *logEntry) string {
	var sb strings.Builder
	sb.WriteString(paint(f.time, "["+e.Time.Local().Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	level := strings.ToUpper(e.Level)
	sb.WriteString(paint(f.levels[level], fmt.Sprintf("[%s]", level)))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	if e.InstanceID != "" {
		sb.WriteString(" " + paint(f.key, "instance_id=") + e.InstanceID)
	}
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s%v", paint(f.key, k+"="), e.Extra[k])
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, _ []string) error {
	filter := logFilter{minLevel: -1}
	if level, _ := cmd.Flags().GetString("level"); level != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(level))
	}
	if since, _ := cmd.Flags().GetString("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return errors.NewUserError(errors.Wrap(errors.ErrInvalidInput, err.Error()), "use a duration such as 1h or 30m")
		}
		filter.since = time.Now().Add(-d)
	}
	if pattern, _ := cmd.Flags().GetString("grep"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errors.NewUserError(errors.Wrap(errors.ErrInvalidInput, err.Error()), "check the --grep pattern")
		}
		filter.grep = re
	}
	filter.instance, _ = cmd.Flags().GetString("instance")

	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	logPath := filepath.Join(c.Dir(), logging.FileName)
	_ = c.Close()

	out := cmd.OutOrStdout()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No coordination log yet.")
		fmt.Fprintln(out, "Logs are stored at:", logPath)
		return nil
	}

	fmtr := newLogFormatter(out)
	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		return followLogs(cmd.Context(), out, logPath, filter, fmtr)
	}
	tail, _ := cmd.Flags().GetInt("tail")
	return displayLogs(out, logPath, tail, filter, fmtr)
}

// displayLogs prints the last tail matching entries of the log.
func displayLogs(out io.Writer, logPath string, tail int, filter logFilter, fmtr logFormatter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return errors.Wrap(err, "opening log file")
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line, ok := formatLine(scanner.Text(), filter, fmtr); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading log file")
	}

	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs prints entries appended to the log until ctx is done.
func followLogs(ctx context.Context, out io.Writer, logPath string, filter logFilter, fmtr logFormatter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return errors.Wrap(err, "opening log file")
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "seeking to end of log")
	}
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return errors.Wrap(err, "reading log file")
		}
		if formatted, ok := formatLine(line, filter, fmtr); ok {
			fmt.Fprintln(out, formatted)
		}
	}
}

// formatLine parses and filters one log line. Lines that are not JSON are
// passed through unfiltered.
func formatLine(line string, filter logFilter, fmtr logFormatter) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line, true
	}
	if !filter.match(&entry) {
		return "", false
	}
	return fmtr.format(&entry), true
}
