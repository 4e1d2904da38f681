package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"gerenciaesportes/internal/apiclient"
	"gerenciaesportes/internal/chamada"
)

var readPasswordFunc = term.ReadPassword // mockable

type options struct {
	api        string
	username   string
	classID    int64
	date       string
	allPresent bool
	present    string
	absent     string
	clear      string
	logout     bool
	tokenFile  string
}

// changes reports whether any flag asks to edit marks.
func (o options) changes() bool {
	return o.allPresent || o.present != "" || o.absent != "" || o.clear != ""
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	client := apiclient.New(opts.api)
	sess := apiclient.NewSession(client, apiclient.FileTokenStore{Path: opts.tokenFile})

	if opts.logout {
		if err := sess.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "session closed")
		return nil
	}

	if err := sess.Init(ctx); err != nil {
		return err
	}
	user, err := sess.CurrentUser()
	if errors.Is(err, apiclient.ErrNotLoggedIn) {
		user, err = login(ctx, sess, opts.username, in, out)
	}
	if err != nil {
		return err
	}
	if user.MustChangePassword {
		fmt.Fprintln(out, "warning: this account must change its password")
	}

	if opts.classID <= 0 {
		return errors.New("-class is required")
	}
	date := time.Now()
	if opts.date != "" {
		date, err = time.ParseInLocation(chamada.DateLayout, opts.date, time.Local)
		if err != nil {
			return fmt.Errorf("invalid -date %q: %w", opts.date, err)
		}
	}

	class, err := client.Class(ctx, opts.classID)
	if err != nil {
		return err
	}

	editor := apiclient.NewEditor(client)
	if err := editor.LoadRoster(ctx, opts.classID); err != nil {
		return err
	}
	if err := editor.LoadExistingMarks(ctx, opts.classID, date); err != nil {
		if errors.Is(err, context.Canceled) || opts.changes() {
			return err
		}
		fmt.Fprintf(out, "warning: %v (marks start unset)\n", err)
	}

	if opts.changes() {
		if err := applyChanges(editor, opts); err != nil {
			return err
		}
	}

	printRoster(out, classTitle(class), editor)

	if !opts.changes() {
		return nil
	}
	if err := editor.Submit(ctx); err != nil {
		if errors.Is(err, chamada.ErrEmptyBatch) {
			return errors.New("select at least one student")
		}
		return err
	}
	fmt.Fprintln(out, "attendance saved")
	return nil
}

func login(ctx context.Context, sess *apiclient.Session, username string, in io.Reader, out io.Writer) (*apiclient.User, error) {
	if username == "" {
		fmt.Fprint(out, "Username: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return nil, errors.New("username is required")
	}
	fmt.Fprint(out, "Password: ")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return nil, err
	}
	return sess.Login(ctx, username, string(pwd))
}

// applyChanges applies -all-present first and then the per-student lists, so
// "-all-present -absent 7" marks everyone but student 7 present.
func applyChanges(e *chamada.Editor, opts options) error {
	if opts.allPresent {
		e.MarkAllPresent()
	}
	for _, step := range []struct {
		list string
		mark chamada.Mark
	}{
		{opts.present, chamada.Present},
		{opts.absent, chamada.Absent},
		{opts.clear, chamada.Unset},
	} {
		ids, err := parseIDs(step.list)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.SetMark(id, step.mark); err != nil {
				return fmt.Errorf("student %d: %w", id, err)
			}
		}
	}
	return nil
}

func parseIDs(list string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid student id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func classTitle(c *apiclient.Class) string {
	title := c.Modality.Name
	if c.Description != "" {
		title = fmt.Sprintf("%s (%s)", c.Description, c.Modality.Name)
	}
	return fmt.Sprintf("%s %s %s-%s", title, strings.Join(c.Weekdays, ","), c.StartTime, c.EndTime)
}

func printRoster(out io.Writer, title string, e *chamada.Editor) {
	fmt.Fprintf(out, "%s, %s\n", title, e.Date().Format("02/01/2006"))
	students := e.Students()
	if len(students) == 0 {
		fmt.Fprintln(out, "no students enrolled")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTUDENT\tMARK")
	for _, st := range students {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", st.ID, st.Name, markLabel(e.Mark(st.ID)))
	}
	_ = tw.Flush()
}

func markLabel(m chamada.Mark) string {
	switch m {
	case chamada.Present:
		return "P"
	case chamada.Absent:
		return "A"
	default:
		return "-"
	}
}
