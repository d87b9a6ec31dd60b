package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/ui"
)

var postsCmd = &cobra.Command{
	Use:     "posts <deployment>",
	GroupID: "content",
	Short:   "List posts with their values",
	Long: `List a page of posts joined with their author, form, thumbnail and
field values.

The deployment's saved filter applies unless --status, --form or --search
is given; those flags replace the saved filter and are saved with --save.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		cache, _ := flags.GetBool("cache")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")
		save, _ := flags.GetBool("save")

		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}

		scope := a.repo.For(d)
		filter, err := scope.Filter(ctx)
		if errors.Is(err, errs.ErrNotFound) {
			filter = nil
		} else if err != nil {
			return err
		}
		if flags.Changed("status") || flags.Changed("form") || flags.Changed("search") {
			filter, err = filterFromFlags(cmd)
			if err != nil {
				return err
			}
			if save {
				if err := scope.SaveFilter(ctx, filter); err != nil {
					return err
				}
			}
		}

		posts, err := a.syncer.PostsWithValues(ctx, d, filter, fetchOptions(cache, limit, offset))
		if err != nil {
			return err
		}
		return render(posts, func() string {
			rows := make([][]string, 0, len(posts))
			for _, p := range posts {
				id := strconv.FormatInt(p.ID, 10)
				if p.Pending {
					id += "*"
				}
				author, form := "", ""
				if p.User != nil {
					author = p.User.Name
				}
				if p.Form != nil {
					form = p.Form.Name
				}
				rows = append(rows, []string{id, ui.RenderStatus(p.Status), p.Title, author, form, strconv.Itoa(len(p.Values))})
			}
			return ui.Table([]string{"ID", "STATUS", "TITLE", "AUTHOR", "FORM", "VALUES"}, rows)
		})
	},
}

func filterFromFlags(cmd *cobra.Command) (*schema.Filter, error) {
	statuses, _ := cmd.Flags().GetStringSlice("status")
	forms, _ := cmd.Flags().GetInt64Slice("form")
	search, _ := cmd.Flags().GetString("search")

	f := &schema.Filter{ShowForms: schema.JoinIDs(forms), SearchText: search}
	for _, s := range statuses {
		switch strings.ToLower(s) {
		case schema.StatusPublished:
			f.ShowPublished = true
		case schema.StatusArchived:
			f.ShowArchived = true
		case schema.StatusDraft, "inreview", "in_review":
			f.ShowInReview = true
		case "all":
			f.ShowPublished, f.ShowArchived, f.ShowInReview = true, true, true
		default:
			return nil, fmt.Errorf("unknown status %q", s)
		}
	}
	if len(statuses) == 0 {
		f.ShowPublished, f.ShowArchived, f.ShowInReview = true, true, true
	}
	return f, nil
}

var postCmd = &cobra.Command{
	Use:     "post",
	GroupID: "content",
	Short:   "Write posts",
}

var postAddCmd = &cobra.Command{
	Use:   "add <deployment>",
	Short: "Save a new post locally for the next push",
	Long: `Save a new post as pending. It gets a negative local id and is sent to
the deployment by 'crowdsync post push' or the daemon.

Values are given as key=value. A value of file:<path> uploads the file
when the post is pushed; a location value may be "lat,lon" or an address
to geocode.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := postFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := a.syncer.SavePendingPost(ctx, d, p); err != nil {
			return err
		}
		fmt.Printf("%s Saved pending post %d on %s\n", ui.RenderPass("✓"), p.ID, d.Name)
		return nil
	},
}

var postEditCmd = &cobra.Command{
	Use:   "edit <deployment> <post-id>",
	Short: "Change a cached post locally for the next push",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid post id %q", args[1])
		}
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := a.repo.For(d).Post(ctx, id)
		if err != nil {
			return err
		}
		edit, err := postFromFlags(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("title") {
			p.Title = edit.Title
		}
		if cmd.Flags().Changed("description") {
			p.Description = edit.Description
		}
		if cmd.Flags().Changed("status") {
			p.Status = edit.Status
		}
		for _, v := range edit.Values {
			setValue(p, v.Key, v.Value)
		}
		if err := a.syncer.SavePendingPost(ctx, d, p); err != nil {
			return err
		}
		fmt.Printf("%s Post %d will be updated on the next push\n", ui.RenderPass("✓"), p.ID)
		return nil
	},
}

var postDraftCmd = &cobra.Command{
	Use:   "draft <deployment>",
	Short: "Queue a post in the outbox for the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := postFromFlags(cmd)
		if err != nil {
			return err
		}

		draft := schema.NewDraft(d.ID, p.Title)
		draft.Description = p.Description
		draft.FormID = p.FormID
		for _, v := range p.Values {
			draft.Values[v.Key] = v.Value
		}
		if err := schema.WriteDraftFile(cfg.Outbox, draft); err != nil {
			return err
		}
		fmt.Printf("%s Queued draft %s in %s\n", ui.RenderPass("✓"), draft.ID, cfg.Outbox)
		return nil
	},
}

var postPushCmd = &cobra.Command{
	Use:   "push <deployment>",
	Short: "Send pending posts to the deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		result, err := a.syncer.PushPending(ctx, d)
		if rerr := render(result, func() string {
			mark := ui.RenderPass("✓")
			if result.Failed > 0 {
				mark = ui.RenderFail("✗")
			}
			return fmt.Sprintf("%s Pushed %d, failed %d\n", mark, result.Pushed, result.Failed)
		}); rerr != nil {
			return rerr
		}
		return err
	},
}

func postFromFlags(cmd *cobra.Command) (*schema.Post, error) {
	flags := cmd.Flags()
	title, _ := flags.GetString("title")
	description, _ := flags.GetString("description")
	status, _ := flags.GetString("status")
	formID, _ := flags.GetInt64("form")
	pairs, _ := flags.GetStringArray("value")

	p := &schema.Post{Title: title, Description: description, Status: status, FormID: formID}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("value %q is not key=value", pair)
		}
		setValue(p, key, value)
	}
	return p, nil
}

// setValue replaces the value of key or appends it.
func setValue(p *schema.Post, key, value string) {
	for _, v := range p.Values {
		if v.Key == key {
			v.Value = value
			return
		}
	}
	p.Values = append(p.Values, &schema.Value{Key: key, Value: value})
}

var formsCmd = &cobra.Command{
	Use:     "forms <deployment>",
	GroupID: "content",
	Short:   "List survey forms with their stages and fields",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cache, _ := cmd.Flags().GetBool("cache")
		formID, _ := cmd.Flags().GetInt64("id")
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}

		var forms []*schema.Form
		if formID != 0 {
			f, err := a.syncer.FormWithAttributes(ctx, d, formID, fetchOptions(cache, 0, 0))
			if err != nil {
				return err
			}
			forms = []*schema.Form{f}
		} else if forms, err = a.syncer.FormsWithAttributes(ctx, d, fetchOptions(cache, 0, 0)); err != nil {
			return err
		}

		return render(forms, func() string {
			var b strings.Builder
			for _, f := range forms {
				fmt.Fprintf(&b, "%s %s\n", ui.RenderAccent(strconv.FormatInt(f.ID, 10)), f.Name)
				for _, st := range f.Stages {
					fmt.Fprintf(&b, "  %s\n", st.Label)
					for _, attr := range st.Attributes {
						required := ""
						if attr.Required {
							required = ui.RenderWarn(" (required)")
						}
						fmt.Fprintf(&b, "    %s %s%s\n", ui.RenderMuted(attr.Key), attr.Label, required)
					}
				}
			}
			return b.String()
		})
	},
}

var collectionsCmd = &cobra.Command{
	Use:     "collections <deployment>",
	GroupID: "content",
	Short:   "List collections, or change which posts they hold",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cache, _ := cmd.Flags().GetBool("cache")
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		collections, err := a.syncer.Collections(ctx, d, fetchOptions(cache, 0, 0))
		if err != nil {
			return err
		}
		return render(collections, func() string {
			rows := make([][]string, 0, len(collections))
			for _, c := range collections {
				rows = append(rows, []string{strconv.FormatInt(c.ID, 10), c.Name, c.Description})
			}
			return ui.Table([]string{"ID", "NAME", "DESCRIPTION"}, rows)
		})
	},
}

func membershipCmd(use, short string, add bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <deployment> <collection-id> <post-id>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			collectionID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid collection id %q", args[1])
			}
			postID, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[2])
			}

			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.deployment(ctx, args[0])
			if err != nil {
				return err
			}
			if add {
				err = a.syncer.AddPostToCollection(ctx, d, collectionID, postID)
			} else {
				err = a.syncer.RemovePostFromCollection(ctx, d, collectionID, postID)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s Done\n", ui.RenderPass("✓"))
			return nil
		},
	}
}

func init() {
	postsCmd.Flags().Bool("cache", true, "Serve from the cache when it holds a full page")
	postsCmd.Flags().Int("limit", 20, "Page size")
	postsCmd.Flags().Int("offset", 0, "Page offset")
	postsCmd.Flags().StringSlice("status", nil, "Statuses to show: published, draft, archived, all")
	postsCmd.Flags().Int64Slice("form", nil, "Only posts of these form ids")
	postsCmd.Flags().String("search", "", "Only posts whose title contains this text")
	postsCmd.Flags().Bool("save", false, "Save the filter flags as the deployment's filter")

	for _, c := range []*cobra.Command{postAddCmd, postEditCmd, postDraftCmd} {
		c.Flags().String("title", "", "Post title")
		c.Flags().String("description", "", "Post description")
		c.Flags().String("status", "", "Post status (default draft)")
		c.Flags().Int64("form", 0, "Form id")
		c.Flags().StringArray("value", nil, "Field value as key=value, repeatable")
	}
	_ = postAddCmd.MarkFlagRequired("title")
	_ = postDraftCmd.MarkFlagRequired("title")

	formsCmd.Flags().Bool("cache", true, "Serve from the cache when it holds forms")
	formsCmd.Flags().Int64("id", 0, "Show only this form")
	collectionsCmd.Flags().Bool("cache", true, "Serve from the cache when it holds collections")

	postCmd.AddCommand(postAddCmd, postEditCmd, postDraftCmd, postPushCmd)
	collectionsCmd.AddCommand(
		membershipCmd("add", "Add a post to a collection", true),
		membershipCmd("remove", "Remove a post from a collection", false),
	)
	rootCmd.AddCommand(postsCmd, postCmd, formsCmd, collectionsCmd)
}
