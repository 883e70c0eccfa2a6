package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BC34A")).
			Bold(true).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9aa5b1")).
			Width(20)

	valueStyle = lipgloss.NewStyle().Bold(true)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e5534b")).Bold(true)
)

func printTitle(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func printRow(w io.Writer, label string, value any) {
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		labelStyle.Render(label),
		valueStyle.Render(fmt.Sprint(value))))
}

func printCheck(w io.Writer, label string, err error) {
	status := okStyle.Render("ok")
	if err != nil {
		status = failStyle.Render("FAIL") + " " + err.Error()
	}
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), status))
}
