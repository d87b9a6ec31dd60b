package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/ui"
)

var deploymentCmd = &cobra.Command{
	Use:     "deployment",
	Aliases: []string{"deployments", "dep"},
	GroupID: "deployments",
	Short:   "Manage the deployments this client follows",
}

var deploymentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		deployments, err := a.repo.Deployments(ctx)
		if err != nil {
			return err
		}
		return render(deployments, func() string {
			if len(deployments) == 0 {
				return fmt.Sprintf("%s No deployments yet, add one with 'crowdsync deployment add'\n", ui.RenderWarn("⚠"))
			}
			rows := make([][]string, 0, len(deployments))
			for _, d := range deployments {
				rows = append(rows, []string{
					strconv.FormatInt(d.ID, 10), d.Name, d.API,
					strconv.FormatInt(d.PostsCount, 10), strconv.FormatInt(d.FormsCount, 10),
				})
			}
			return ui.Table([]string{"ID", "NAME", "API", "POSTS", "FORMS"}, rows)
		})
	},
}

var deploymentSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the public directory of hosted deployments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		found, err := a.client.SearchDeployments(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return render(found, func() string {
			rows := make([][]string, 0, len(found))
			for _, d := range found {
				rows = append(rows, []string{d.Name, d.Website, d.API, d.Tier})
			}
			return ui.Table([]string{"NAME", "WEBSITE", "API", "TIER"}, rows)
		})
	},
}

var deploymentAddCmd = &cobra.Command{
	Use:   "add <api-url>",
	Short: "Follow a deployment and fetch its site config",
	Long: `Add a deployment by the base URL of its API, for example
https://example.api.ushahidi.io. The site config is fetched right away
unless --offline is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		website, _ := cmd.Flags().GetString("website")

		api := strings.TrimRight(args[0], "/")
		u, err := url.Parse(api)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("not an absolute url: %q", args[0])
		}

		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d := &schema.Deployment{Name: name, API: api, Website: website, Domain: u.Host}
		if d.Name == "" {
			d.Name = u.Host
		}
		if err := a.repo.SaveDeployment(ctx, d); err != nil {
			return err
		}

		if !offline {
			if _, err := a.syncer.Deployment(ctx, d, fetchOptions(false, 0, 0)); err != nil {
				fmt.Printf("%s Added %s but could not fetch its config: %v\n", ui.RenderWarn("⚠"), d.Name, err)
				return nil
			}
		}
		fmt.Printf("%s Added deployment %d (%s)\n", ui.RenderPass("✓"), d.ID, d.Name)
		return nil
	},
}

var deploymentShowCmd = &cobra.Command{
	Use:   "show <deployment>",
	Short: "Show a deployment's site config",
	Args:  cobra.ExactArgs(1),
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
		d, err = a.syncer.Deployment(ctx, d, fetchOptions(cache, 0, 0))
		if err != nil {
			return err
		}
		return render(d, func() string {
			return ui.KeyValue([][2]string{
				{"Name", d.Name},
				{"Description", d.Description},
				{"API", d.API},
				{"Website", d.Website},
				{"Email", d.Email},
				{"Posts", strconv.FormatInt(d.PostsCount, 10)},
				{"Forms", strconv.FormatInt(d.FormsCount, 10)},
				{"Users", strconv.FormatInt(d.UsersCount, 10)},
				{"Updated", d.Saved.Format("2006-01-02 15:04:05")},
			})
		})
	},
}

var deploymentRemoveCmd = &cobra.Command{
	Use:   "remove <deployment>",
	Short: "Forget a deployment, its cache and its login",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		if !yes {
			ok, err := confirm(fmt.Sprintf("Remove %s and everything cached for it?", d.Name))
			if err != nil || !ok {
				return err
			}
		}
		if err := a.syncer.RemoveDeployment(ctx, d); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), d.Name)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login <deployment>",
	GroupID: "deployments",
	Short:   "Store a username and password for a deployment and log in",
	Long: `Log in to a deployment. The password is read from a prompt, or from
stdin when no terminal is attached. Without --username the client logs in
anonymously with the client credentials grant.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		username, _ := cmd.Flags().GetString("username")
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.deployment(ctx, args[0])
		if err != nil {
			return err
		}
		if username != "" {
			password, err := promptInput("Password", true)
			if err != nil {
				return err
			}
			if err := a.sessions.SetCredentials(ctx, d, username, password); err != nil {
				return err
			}
		}

		login, err := a.sessions.Login(ctx, d)
		if err != nil {
			return err
		}
		if login.UserID != 0 {
			fmt.Printf("%s Logged in to %s as %s (%s)\n", ui.RenderPass("✓"), d.Name, login.Username, login.Role)
		} else {
			fmt.Printf("%s Logged in to %s anonymously\n", ui.RenderPass("✓"), d.Name)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout <deployment>",
	GroupID: "deployments",
	Short:   "Forget the stored login of a deployment",
	Args:    cobra.ExactArgs(1),
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
		if err := a.sessions.Logout(ctx, d); err != nil {
			return err
		}
		fmt.Printf("%s Logged out of %s\n", ui.RenderPass("✓"), d.Name)
		return nil
	},
}

func init() {
	deploymentAddCmd.Flags().String("name", "", "Display name (default: the API host)")
	deploymentAddCmd.Flags().String("website", "", "Public website of the deployment")
	deploymentShowCmd.Flags().Bool("cache", true, "Serve from the cache when the config was fetched before")
	deploymentRemoveCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	loginCmd.Flags().StringP("username", "u", "", "Username (email) to log in with")

	deploymentCmd.AddCommand(deploymentListCmd, deploymentSearchCmd, deploymentAddCmd, deploymentShowCmd, deploymentRemoveCmd)
	rootCmd.AddCommand(deploymentCmd, loginCmd, logoutCmd)
}
