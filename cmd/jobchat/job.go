package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/jobchat/internal/proto"
)

var jobCreateFlags struct {
	photographer string
	eventType    string
	date         string
	location     string
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Book, list and accept jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Book a photographer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		date, err := time.Parse(time.DateOnly, jobCreateFlags.date)
		if err != nil {
			return fmt.Errorf("--date: %w", err)
		}
		c, _, err := signIn(cmd.Context())
		if err != nil {
			return err
		}
		job, err := c.CreateJob(cmd.Context(), proto.CreateJobRequest{
			PhotographerID: jobCreateFlags.photographer,
			EventType:      jobCreateFlags.eventType,
			EventDate:      date,
			Location:       jobCreateFlags.location,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, _, err := signIn(cmd.Context())
		if err != nil {
			return err
		}
		jobs, err := c.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tEVENT\tDATE\tLOCATION")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Status, j.EventType, j.EventDate.Format(time.DateOnly), j.Location)
		}
		return w.Flush()
	},
}

var jobAcceptCmd = &cobra.Command{
	Use:   "accept <job-id>",
	Short: "Accept a pending booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := signIn(cmd.Context())
		if err != nil {
			return err
		}
		job, err := c.AcceptJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, job.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobCreateCmd, jobListCmd, jobAcceptCmd)

	f := jobCreateCmd.Flags()
	f.StringVar(&jobCreateFlags.photographer, "photographer", "", "photographer user id")
	f.StringVar(&jobCreateFlags.eventType, "event", "", "event type, e.g. wedding")
	f.StringVar(&jobCreateFlags.date, "date", "", "event date as YYYY-MM-DD")
	f.StringVar(&jobCreateFlags.location, "location", "", "event location")
	_ = jobCreateCmd.MarkFlagRequired("photographer")
	_ = jobCreateCmd.MarkFlagRequired("event")
	_ = jobCreateCmd.MarkFlagRequired("date")
}
