package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
)

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderTable(header table.Row, rows []table.Row) string {
	w := table.NewWriter()
	if stdoutIsTerminal() {
		w.SetStyle(table.StyleRounded)
	} else {
		w.SetStyle(table.StyleLight)
	}
	w.AppendHeader(header)
	w.AppendRows(rows)
	return w.Render()
}
