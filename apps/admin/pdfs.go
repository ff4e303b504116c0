package main

import (
	"context"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/trezcool/kitabu/core/library"
)

func (cli *commandLine) pdfsCommand() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "pdfs",
		Short: "List uploaded PDFs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.listPDFs(cmd.Context(), cmd.OutOrStdout(), uname)
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "Only list the PDFs of this user (username or email)")
	return cmd
}

func (cli *commandLine) listPDFs(ctx context.Context, w io.Writer, uname string) error {
	var userID int
	if uname != "" {
		usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
		if err != nil {
			return err
		}
		userID = usr.ID
	}

	pdfs, err := cli.pdfRepo.ListPDFs(ctx, userID)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(pdfs))
	for _, p := range pdfs {
		rows = append(rows, []string{
			strconv.Itoa(p.ID),
			p.Username,
			p.Title,
			humanize.Bytes(uint64(p.Size)),
			colorStatus(p.Status),
			humanize.Time(p.CreatedAt),
		})
	}
	renderTable(w, []string{"ID", "Owner", "Title", "Size", "Status", "Uploaded"}, rows, []text.Align{text.AlignRight, 0, 0, text.AlignRight, 0, 0})
	return nil
}

func colorStatus(status string) string {
	switch status {
	case library.StatusCompleted:
		return color.GreenString(status)
	case library.StatusFailed:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
