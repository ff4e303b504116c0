package main

import (
	"context"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func (cli *commandLine) usersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List all users with their PDF counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.listUsers(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (cli *commandLine) listUsers(ctx context.Context, w io.Writer) error {
	users, err := cli.usrSvc.QueryAll(ctx)
	if err != nil {
		return err
	}
	pdfs, err := cli.pdfRepo.ListPDFs(ctx, 0 /* all users */)
	if err != nil {
		return err
	}
	counts := make(map[int]int, len(users))
	for _, p := range pdfs {
		counts[p.UserID]++
	}

	rows := make([][]string, 0, len(users))
	for _, usr := range users {
		lastLogin := "never"
		if !usr.LastLogin.IsZero() {
			lastLogin = humanize.Time(usr.LastLogin)
		}
		rows = append(rows, []string{
			strconv.Itoa(usr.ID),
			usr.Username,
			usr.Email,
			yesNo(usr.IsActive),
			strconv.Itoa(counts[usr.ID]),
			lastLogin,
		})
	}
	renderTable(w, []string{"ID", "Username", "Email", "Active", "PDFs", "Last login"}, rows, []text.Align{text.AlignRight, 0, 0, 0, text.AlignRight, 0})
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderTable(w io.Writer, headers []string, rows [][]string, aligns []text.Align) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(aligns))
	for i, align := range aligns {
		if align == text.AlignDefault {
			continue
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align})
	}
	tw.SetColumnConfigs(configs)
	tw.Render()
}
