package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/state"
	"github.com/ShayCichocki/armada/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show persisted fleet state",
	Long: `Display fleet state recorded in .armada/state.db.

Without a project, lists every fleet with its lifecycle state and progress.
With a project, shows each story, its attempts and last error, and the
conflicts recorded for the fleet.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	dbPath := state.ProjectDBPath(dir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No fleets recorded. Run 'armada run <plan>' to start one.")
		return nil
	}

	db, err := state.OpenProject(dir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if len(args) == 1 {
		return displayFleet(db, args[0])
	}
	return displayFleets(db)
}

func displayFleets(db *state.DB) error {
	records, err := db.ListFleets()
	if err != nil {
		return fmt.Errorf("list fleets: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No fleets recorded. Run 'armada run <plan>' to start one.")
		return nil
	}

	rows := [][]string{{"PROJECT", "STATE", "DONE", "FAILED", "UPDATED"}}
	for _, r := range records {
		stories, err := db.LoadStories(r.Project)
		if err != nil {
			return fmt.Errorf("load stories for %s: %w", r.Project, err)
		}
		counts := countStatuses(stories)
		rows = append(rows, []string{
			r.Project,
			renderFleetState(r.State),
			fmt.Sprintf("%d/%d", counts[models.StoryStatusDone], len(stories)),
			fmt.Sprintf("%d", counts[models.StoryStatusFailed]),
			formatDuration(time.Since(r.UpdatedAt)) + " ago",
		})
	}
	fmt.Println(renderTable(rows))
	return nil
}

func displayFleet(db *state.DB, project string) error {
	record, err := db.GetFleet(project)
	if err != nil {
		return fmt.Errorf("get fleet: %w", err)
	}
	if record == nil {
		return fmt.Errorf("no fleet recorded for %s", project)
	}
	stories, err := db.LoadStories(project)
	if err != nil {
		return fmt.Errorf("load stories: %w", err)
	}
	sort.Slice(stories, func(i, j int) bool {
		if stories[i].Domain != stories[j].Domain {
			return stories[i].Domain < stories[j].Domain
		}
		return stories[i].ID < stories[j].ID
	})

	counts := countStatuses(stories)
	fmt.Printf("%s %s\n", headerStyle.Render("Fleet "+project), renderFleetState(record.State))
	fmt.Printf("%s %d/%d done, %d failed, started %s ago\n\n",
		labelStyle.Render("Progress:"),
		counts[models.StoryStatusDone], len(stories), counts[models.StoryStatusFailed],
		formatDuration(time.Since(record.CreatedAt)))

	rows := [][]string{{"STORY", "DOMAIN", "PHASE", "STATUS", "ATTEMPTS", "LAST ERROR"}}
	for _, s := range stories {
		rows = append(rows, []string{
			s.ID,
			s.Domain,
			string(s.Phase),
			renderStoryStatus(s),
			fmt.Sprintf("%d", s.Attempts),
			truncate(s.LastError, 48),
		})
	}
	fmt.Println(renderTable(rows))

	conflicts, err := db.ListConflicts(project)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	if len(conflicts) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println(headerStyle.Render("Conflicts"))
	for _, c := range conflicts {
		style := pendingStyle
		if c.Resolution == models.ResolutionEscalated {
			style = warnStyle
		}
		fmt.Printf("  %s %s %s (%s)\n",
			style.Render(string(c.Resolution)),
			c.ResourceKey,
			labelStyle.Render(strings.Join(c.StoryIDsInvolved, ", ")),
			c.ID)
	}
	return nil
}

func countStatuses(stories []*models.Story) map[models.StoryStatus]int {
	counts := make(map[models.StoryStatus]int)
	for _, s := range stories {
		counts[s.Status]++
	}
	return counts
}

func renderFleetState(s fleet.State) string {
	switch s {
	case fleet.StateCompleted:
		return doneStyle.Render(string(s))
	case fleet.StateRunning, fleet.StateStarting:
		return activeStyle.Render(string(s))
	case fleet.StateError:
		return failedStyle.Render(string(s))
	default:
		return pendingStyle.Render(string(s))
	}
}

func renderStoryStatus(s *models.Story) string {
	switch s.Status {
	case models.StoryStatusDone:
		return doneStyle.Render("✓ done")
	case models.StoryStatusFailed:
		return failedStyle.Render("✗ failed")
	case models.StoryStatusInProgress, models.StoryStatusTesting, models.StoryStatusMerging:
		return activeStyle.Render("● " + string(s.Status))
	}
	if s.ConflictID != "" {
		return warnStyle.Render("⚠ conflict")
	}
	return pendingStyle.Render("○ " + string(s.Status))
}

// renderTable lays out rows in padded columns; the first row is the header.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows))
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := lipgloss.NewStyle().Width(widths[i] + 2)
			if r == 0 {
				style = style.Inherit(labelStyle)
			}
			cells[i] = style.Render(cell)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
