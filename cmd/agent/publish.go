package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/Hara602/hostSentry/internal/mailbox"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/spf13/cobra"
)

// publish 充当采集端，往邮箱写入事件
func newPublishCmd(a *app) *cobra.Command {
	var (
		category string
		kindName string
		fields   [3]string
		files    []string
		dirs     []string
		userName string
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish events into a mailbox channel",
		Example: `  hostsentry publish --category Window --kind WindowSwitched --primary "Inbox" --secondary thunderbird
  hostsentry publish --category CopyFiles --kind ClipboardFiles --file /home/alice/report.odt --dir /home/alice/Proj
  xclip -o -loops 0 | hostsentry publish --category Clipboard --kind ClipboardText --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := model.ParseKind(kindName)
			if !ok {
				return fmt.Errorf("unknown event kind %q", kindName)
			}
			if userName == "" {
				if u, err := user.Current(); err == nil {
					userName = u.Username
				}
			}
			dir := session.ExpandUser(a.cfg.Mailbox.Dir, userName)

			ch, err := mailbox.Open(dir, category, mailbox.Options{
				RegionSize:  a.cfg.Mailbox.RegionSize,
				LockTimeout: a.cfg.Mailbox.LockTimeout,
				Create:      true,
				Logger:      sysutil.Log,
			})
			if err != nil {
				return err
			}
			defer ch.Close()

			build := func(primary string) model.ActivityEvent {
				if kind == model.WindowSwitched {
					return mailbox.WindowEvent(primary, fields[1], fields[2])
				}
				ev := model.NewEvent(kind, primary, fields[1], fields[2])
				var descs []model.FileDescriptor
				for _, f := range files {
					descs = append(descs, model.FileDescriptor{Path: f})
				}
				for _, d := range dirs {
					descs = append(descs, model.FileDescriptor{Path: d, IsDirectory: true})
				}
				if len(descs) > 0 {
					ev = ev.WithFiles(descs)
				}
				return ev
			}

			if follow {
				// 每行标准输入作为一条事件的主字段，直到 EOF 或收到信号
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				lines := make(chan string)
				go func() {
					defer cancel()
					sc := bufio.NewScanner(os.Stdin)
					for sc.Scan() {
						select {
						case lines <- sc.Text():
						case <-ctx.Done():
							return
						}
					}
				}()
				capture := func(ctx context.Context) (model.ActivityEvent, bool, error) {
					select {
					case l := <-lines:
						return build(l), true, nil
					default:
						return model.ActivityEvent{}, false, nil
					}
				}
				return mailbox.NewProducer(ch, capture, a.cfg.Mailbox.PollInterval, sysutil.Log).Run(ctx)
			}

			sent, err := mailbox.NewProducer(ch, nil, 0, sysutil.Log).Offer(cmd.Context(), build(fields[0]))
			if err != nil {
				return err
			}
			if !sent {
				fmt.Println("nothing to publish (empty event)")
				return nil
			}
			fmt.Printf("published %s to %s/%s\n", kind, dir, category)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "mailbox category (Keyboard, Window, Clipboard, CopyFiles, Edge)")
	cmd.Flags().StringVar(&kindName, "kind", "", "event kind, e.g. WindowSwitched")
	cmd.Flags().StringVar(&fields[0], "primary", "", "primary field")
	cmd.Flags().StringVar(&fields[1], "secondary", "", "secondary field")
	cmd.Flags().StringVar(&fields[2], "tertiary", "", "tertiary field")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file entry for ClipboardFiles (repeatable)")
	cmd.Flags().StringArrayVar(&dirs, "dir", nil, "directory entry for ClipboardFiles (repeatable)")
	cmd.Flags().StringVar(&userName, "user", "", "session user used to expand [USERNAME] (default: current user)")
	cmd.Flags().BoolVar(&follow, "follow", false, "read stdin and publish one event per line")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
