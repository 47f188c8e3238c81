package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// Color palette
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#00D7FF")
	successColor   = lipgloss.Color("#04B575")
	warningColor   = lipgloss.Color("#FFA500")
	mutedColor     = lipgloss.Color("#666666")
)

type styles struct {
	header lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	clean  lipgloss.Style
	dirty  lipgloss.Style
	muted  lipgloss.Style
}

func newStyles() styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return styles{
			header: plain.Bold(true),
			label:  plain.Width(22),
			value:  plain,
			clean:  plain,
			dirty:  plain,
			muted:  plain,
		}
	}
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1),
		label:  lipgloss.NewStyle().Width(22).Foreground(secondaryColor),
		value:  lipgloss.NewStyle().Bold(true),
		clean:  lipgloss.NewStyle().Foreground(successColor),
		dirty:  lipgloss.NewStyle().Foreground(warningColor).Bold(true),
		muted:  lipgloss.NewStyle().Foreground(mutedColor),
	}
}

var numbers = message.NewPrinter(language.English)

func renderExercise(rep exerciseReport) string {
	st := newStyles()
	var sb strings.Builder
	line := func(label, value string) {
		sb.WriteString(st.label.Render(label) + st.value.Render(value) + "\n")
	}

	sb.WriteString(st.header.Render("Exercise") + "\n")
	line("Buffers", numbers.Sprintf("%d", rep.Buffers))
	line("Fields per buffer", numbers.Sprintf("%d", rep.Fields))
	line("Pages", numbers.Sprintf("%d", rep.Pages))
	line("Resident pages", numbers.Sprintf("%d", rep.Resident))
	line("Stored pages", numbers.Sprintf("%d", rep.StoredPages))
	line("Stored bytes", humanize.Bytes(rep.StoredBytes))
	line("Failures", numbers.Sprintf("%d", rep.Failures))
	line("Mismatches", numbers.Sprintf("%d", rep.Mismatches))
	line("Elapsed", rep.Elapsed.Round(time.Microsecond).String())

	if len(rep.Metrics) > 0 {
		sb.WriteString("\n" + st.header.Render("Metrics") + "\n")
		for _, name := range slices.Sorted(maps.Keys(rep.Metrics)) {
			sb.WriteString(st.muted.Render(name) + " " + numbers.Sprintf("%v", rep.Metrics[name]) + "\n")
		}
	}
	return sb.String()
}

func renderInspect(rep inspectReport) string {
	st := newStyles()
	var sb strings.Builder

	sb.WriteString(st.header.Render(fmt.Sprintf("Segment %s  %s", rep.Segment, rep.Region)) + "\n")
	for _, p := range rep.Pages {
		flag := st.clean.Render("clean")
		if p.Dirty {
			flag = st.dirty.Render("dirty")
		}
		sb.WriteString(st.label.Render(p.Region) + fmt.Sprintf("%-8s", p.State) + flag + "\n")
	}

	sb.WriteString("\n" + st.header.Render(fmt.Sprintf("Store (%d pages)", len(rep.Stored))) + "\n")
	if len(rep.Stored) == 0 {
		sb.WriteString(st.muted.Render("nothing written back") + "\n")
	}
	for _, s := range rep.Stored {
		sb.WriteString(st.muted.Render(s.Key) + "  " + humanize.Bytes(s.Bytes) + "\n")
	}
	return sb.String()
}
