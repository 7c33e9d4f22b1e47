package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// printTenants печатает тенантов таблицей.
func printTenants(w io.Writer, tenants []*model.Tenant) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tCREATED_AT")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Username, t.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
