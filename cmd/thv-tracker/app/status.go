package app

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-service-tracker/internal/httpclient"
)

const (
	flagURL          = "url"
	flagTimeout      = "timeout"
	flagSubscription = "subscription"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the subscriptions of a running tracker",
		Long: `Query the HTTP API of a running tracker and print its subscriptions.
With --subscription, print the members of one subscription instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, v)
		},
	}

	cmd.Flags().String(flagURL, "http://localhost:8080", "Base URL of the tracker API")
	cmd.Flags().Duration(flagTimeout, httpclient.DefaultTimeout, "Request timeout")
	cmd.Flags().String(flagSubscription, "", "Show the members of this subscription")
	bindFlags(cmd, v, flagURL, flagTimeout, flagSubscription)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	base, err := url.Parse(v.GetString(flagURL))
	if err != nil || base.Host == "" {
		return fmt.Errorf("invalid --%s %q", flagURL, v.GetString(flagURL))
	}

	path := "subscriptions"
	name := v.GetString(flagSubscription)
	if name != "" {
		path += "/" + url.PathEscape(name)
	}

	client := httpclient.NewDefaultClient(v.GetDuration(flagTimeout))
	body, err := client.Get(cmd.Context(), base.JoinPath(path).String())
	if err != nil {
		return fmt.Errorf("failed to query tracker: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("tracker returned an invalid response")
	}

	doc := gjson.ParseBytes(body)
	if name != "" {
		return renderMembers(cmd.OutOrStdout(), doc)
	}
	return renderSubscriptions(cmd.OutOrStdout(), doc)
}

func renderSubscriptions(w io.Writer, doc gjson.Result) error {
	if _, err := fmt.Fprintf(w, "Tracker: %s\n", doc.Get("tracker").String()); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Policy", "State", "Members", "Filter")

	var appendErr error
	doc.Get("subscriptions").ForEach(func(_, s gjson.Result) bool {
		appendErr = table.Append([]string{
			s.Get("name").String(),
			s.Get("policy").String(),
			s.Get("state").String(),
			strconv.Itoa(len(s.Get("members").Array())),
			s.Get("filter").String(),
		})
		return appendErr == nil
	})
	if appendErr != nil {
		return appendErr
	}
	return table.Render()
}

func renderMembers(w io.Writer, doc gjson.Result) error {
	if _, err := fmt.Fprintf(w, "Subscription: %s (%s, %s)\n",
		doc.Get("name").String(), doc.Get("policy").String(), doc.Get("state").String()); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Capabilities", "Properties")

	var appendErr error
	doc.Get("members").ForEach(func(_, m gjson.Result) bool {
		var caps []string
		for _, c := range m.Get("capabilities").Array() {
			caps = append(caps, c.String())
		}
		var props []string
		m.Get("properties").ForEach(func(k, v gjson.Result) bool {
			props = append(props, k.String()+"="+v.String())
			return true
		})
		appendErr = table.Append([]string{
			m.Get("id").String(),
			strings.Join(caps, ","),
			strings.Join(props, " "),
		})
		return appendErr == nil
	})
	if appendErr != nil {
		return appendErr
	}
	return table.Render()
}
