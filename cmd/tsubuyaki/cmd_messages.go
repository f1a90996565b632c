package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tsubuyaki/internal/chat"
	"tsubuyaki/internal/model"
)

// listCmd prints the message list, most recent first
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the message list",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// showCmd prints one message
var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a single message",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

// postCmd sends a message
var postCmd = &cobra.Command{
	Use:   "post <body>",
	Short: "Post a message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPost,
}

// editCmd replaces the body of a message
var editCmd = &cobra.Command{
	Use:   "edit <id> <body>",
	Short: "Replace the body of a message",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runEdit,
}

// deleteCmd removes a message
var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a message",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

// suggestCmd prints the command completions for a prefix
var suggestCmd = &cobra.Command{
	Use:   "suggest <prefix>",
	Short: "Show command completions for a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range chat.Complete(chat.Commands, args[0]) {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

// uploadCmd uploads an image file
var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

// prepare loads the config and builds a store. Logs go to the log file,
// or to stderr with --verbose.
func prepare(cmd *cobra.Command) (*chat.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	w, closeLog, err := openLog(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	cobra.OnFinalize(closeLog)
	if cfg.LogFile == "" && verbose {
		w = cmd.ErrOrStderr()
	}
	setupLogger(w)
	_, store := newStore(cfg)
	return store, nil
}

// report prints the store alert, if any, and turns it into the exit error
func report(cmd *cobra.Command, store *chat.Store, err error) error {
	if alert := store.State().Alert; alert != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", alert)
	}
	return err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printMessage(w io.Writer, m model.Message) {
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.ID, m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.Username, m.Body)
}

func runList(cmd *cobra.Command, _ []string) error {
	store, err := prepare(cmd)
	if err != nil {
		return err
	}
	if err := store.Refresh(cmd.Context()); err != nil {
		return report(cmd, store, err)
	}
	for _, m := range store.State().Messages {
		printMessage(cmd.OutOrStdout(), m)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, _ := newStore(cfg)
	msg, err := c.Get(cmd.Context(), id)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", apiErr.Message)
		}
		return err
	}
	printMessage(cmd.OutOrStdout(), msg)
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	store, err := prepare(cmd)
	if err != nil {
		return err
	}
	store.EditDraft(strings.Join(args, " "))
	if err := store.SendDraft(cmd.Context()); err != nil {
		return report(cmd, store, err)
	}
	msgs := store.State().Messages
	printMessage(cmd.OutOrStdout(), msgs[len(msgs)-1])
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	store, err := prepare(cmd)
	if err != nil {
		return err
	}
	// 他フィールドを保つため先に一覧を取る
	if err := store.Refresh(cmd.Context()); err != nil {
		return report(cmd, store, err)
	}
	if _, ok := store.State().Find(id); !ok {
		return fmt.Errorf("message %d not found", id)
	}
	if err := store.Update(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
		return report(cmd, store, err)
	}
	msg, _ := store.State().Find(id)
	printMessage(cmd.OutOrStdout(), msg)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	store, err := prepare(cmd)
	if err != nil {
		return err
	}
	if err := store.Remove(cmd.Context(), id); err != nil {
		return report(cmd, store, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	c, _ := newStore(cfg)
	name, err := c.UploadImage(cmd.Context(), filepath.Base(args[0]), f)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", apiErr.Message)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}
