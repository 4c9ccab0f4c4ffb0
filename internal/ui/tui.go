package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// stopTimeout bounds how long Stop waits for the program to exit.
const stopTimeout = 2 * time.Second

// TUIRenderer draws live per-stage progress bars with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ProgressTracker
	model   *indexingModel
	program *tea.Program
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}
	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.DataDir)
	model.onInterrupt = cfg.OnInterrupt
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer. The program renders inline so the final view
// stays in the scrollback.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	r.program = tea.NewProgram(r.model,
		tea.WithOutput(r.cfg.Output),
		tea.WithContext(ctx),
	)
	r.started = true
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Update(ev)
	r.send(progressMsg(ev))
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(ev ErrorEvent) {
	r.tracker.AddError(ev)
	r.send(errorMsg(ev))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.send(completeMsg(stats))
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program == nil {
		return nil
	}
	program.Quit()
	select {
	case <-r.done:
	case <-time.After(stopTimeout):
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

type (
	progressMsg ProgressEvent
	errorMsg    ErrorEvent
	completeMsg CompletionStats
	tickMsg     time.Time
)

// indexingModel is the bubbletea model. Progress lives in the tracker;
// messages only trigger a redraw.
type indexingModel struct {
	tracker     *ProgressTracker
	spinner     spinner.Model
	bar         progress.Model
	styles      Styles
	dataDir     string
	width       int
	complete    bool
	stats       CompletionStats
	quitting    bool
	onInterrupt func()
}

func newIndexingModel(tracker *ProgressTracker, dataDir string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &indexingModel{
		tracker: tracker,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		styles:  DefaultStyles(),
		dataDir: dataDir,
		width:   80,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-50, 10)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	lines := make([]string, 0, len(Stages)+3)
	title := "AmanRAG Indexer"
	if m.dataDir != "" {
		title += " • " + m.dataDir
	}
	lines = append(lines, m.styles.Header.Render(title))
	for _, s := range Stages {
		lines = append(lines, m.renderStage(m.tracker.Stage(s)))
	}
	if status := m.renderStatus(); status != "" {
		lines = append(lines, status)
	}
	return strings.Join(lines, "\n") + "\n"
}

// renderStage draws "icon name bar pct count eta" for one stage.
func (m *indexingModel) renderStage(st StageStats) string {
	var icon string
	style := m.styles.Dim
	switch {
	case st.Done:
		icon, style = "●", m.styles.Success
	case st.Started:
		icon, style = m.spinner.View(), m.styles.Active
	default:
		icon = "○"
	}

	name := style.Render(fmt.Sprintf("%s %-8s", icon, st.Stage))
	if !st.Started {
		return name
	}
	if st.Total == 0 {
		return name + " " + m.styles.Dim.Render("preparing")
	}

	line := fmt.Sprintf("%s %s %s %s", name,
		m.bar.ViewAs(st.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", st.Progress*100)),
		m.styles.Label.Render(fmt.Sprintf("%d/%d", st.Current, st.Total)))
	if st.ETA > 0 {
		line += m.styles.Label.Render(" ETA " + formatDuration(st.ETA))
	}
	return line
}

func (m *indexingModel) renderStatus() string {
	errs, warns := m.tracker.Counts()
	var parts []string
	if warns > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", warns)))
	}
	if errs > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", errs)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *indexingModel) renderComplete() string {
	s := m.stats
	label := m.styles.Label.Render
	value := func(v string) string { return m.styles.Active.Render(v) }

	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		fmt.Sprintf("%s  %s", label("Parents: "), value(fmt.Sprint(s.Parents))),
		fmt.Sprintf("%s  %s", label("Children:"), value(fmt.Sprint(s.Children))),
		fmt.Sprintf("%s  %s", label("Vectors: "), value(fmt.Sprint(s.Vectors))),
		fmt.Sprintf("%s  %s", label("Duration:"), value(formatDuration(s.Duration))),
	}
	if s.Embedder.Provider != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Embedder:"),
			value(fmt.Sprintf("%s %s (%d dims)", s.Embedder.Provider, s.Embedder.Model, s.Embedder.Dimensions))))
	}
	if s.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}
	if s.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.Warnings)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(0, 2).
		Width(max(min(m.width-4, 60), 30))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "850ms", "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
	case d < time.Hour:
		d = d.Round(time.Second)
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

var _ Renderer = (*TUIRenderer)(nil)
