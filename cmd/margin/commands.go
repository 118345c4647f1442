package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/margin/internal/config"
	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/model"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage your reader profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/profile")
		if err != nil {
			return err
		}

		var p model.UserProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	},
}

// profileFields maps the keys accepted by `profile set` to their patch
// encoding.
var profileFields = map[string]func(string) (any, error){
	"age": func(v string) (any, error) {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("age must be a non-negative integer")
		}
		return n, nil
	},
	"gender":       asString,
	"context":      asString,
	"linkedinUrl":  asString,
	"areas":        asList,
	"inspirations": asList,
	"reading":      asString,
	"interests":    asString,
	"motivation":   asString,
	"personal":     asString,
}

func asString(v string) (any, error) { return v, nil }

func asList(v string) (any, error) {
	list := splitList(v)
	if len(list) == 0 {
		return nil, fmt.Errorf("expected a comma-separated list")
	}
	return list, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field.

Keys: age, gender, context, linkedinUrl, areas, inspirations,
reading, interests, motivation, personal. List values are comma-separated.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		encode, ok := profileFields[key]
		if !ok {
			return fmt.Errorf("unknown profile field %q", key)
		}
		v, err := encode(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/api/profile", map[string]any{key: v})
		if err != nil {
			return err
		}

		var p model.UserProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileOnboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Answer the onboarding questions and build your profile",
	Long: `Answer the onboarding questions and build your profile.

Example:
  margin profile onboard --areas "History,Economics" --inspirations "Curiosity" --age 34`,
	RunE: func(cmd *cobra.Command, args []string) error {
		areas, _ := cmd.Flags().GetString("areas")
		inspirations, _ := cmd.Flags().GetString("inspirations")
		age, _ := cmd.Flags().GetInt("age")
		gender, _ := cmd.Flags().GetString("gender")
		about, _ := cmd.Flags().GetString("context")
		linkedin, _ := cmd.Flags().GetString("linkedin")

		answers := model.Answers{
			Age:          age,
			Gender:       gender,
			Areas:        splitList(areas),
			Inspirations: splitList(inspirations),
			Context:      about,
			LinkedInURL:  linkedin,
		}
		if len(answers.Areas) == 0 {
			return fmt.Errorf("--areas is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Building your profile...")
		resp, err := client.post(cmd.Context(), "/api/onboarding", answers)
		if err != nil {
			return err
		}

		var p model.UserProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Profile ready")
		return printJSON(os.Stdout, p.Narrative)
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete your profile. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/profile")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Profile deleted")
		return nil
	},
}

func init() {
	profileOnboardCmd.Flags().String("areas", "", "comma-separated areas of interest")
	profileOnboardCmd.Flags().String("inspirations", "", "comma-separated reading inspirations")
	profileOnboardCmd.Flags().Int("age", 0, "your age")
	profileOnboardCmd.Flags().String("gender", "", "your gender")
	profileOnboardCmd.Flags().String("context", "", "anything else worth knowing")
	profileOnboardCmd.Flags().String("linkedin", "", "LinkedIn profile URL")
	profileClearCmd.Flags().Bool("confirm", false, "confirm profile deletion")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileOnboardCmd)
	profileCmd.AddCommand(profileClearCmd)
}

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show book recommendations for your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/recommendations"
		if refresh {
			path += "?refresh=true"
			printStep("Generating fresh recommendations...")
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var set model.RecommendationSet
		if err := decodeJSON(resp, &set); err != nil {
			return err
		}

		if asJSON {
			return printJSON(os.Stdout, set)
		}
		printRecommendations(os.Stdout, set)
		return nil
	},
}

func printRecommendations(w io.Writer, set model.RecommendationSet) {
	sections := []struct {
		name  string
		books []model.BookRecommendation
	}{
		{"Top of mind", set.TopOfMind},
		{"Career growth", set.CareerGrowth},
		{"Personal interests", set.PersonalInterests},
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, paint(toneBold, s.name))
		for _, b := range s.books {
			fmt.Fprintf(w, "  %s by %s\n", b.Title, b.Author)
			fmt.Fprintln(w, paint(toneDim, "    "+b.Relevance))
		}
	}
}

func init() {
	recommendCmd.Flags().Bool("refresh", false, "regenerate instead of using the cached set")
	recommendCmd.Flags().Bool("json", false, "print the raw JSON")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask the reading assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/chat", map[string]any{
			"message": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var reply discussion.ChatReply
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}
		printAssistant(os.Stdout, reply.Content, reply.Prefills)
		return nil
	},
}

// --- discuss ---

var discussCmd = &cobra.Command{
	Use:   "discuss",
	Short: "Start an interactive book discussion",
	Long: `Start an interactive book discussion.

Type the book you want to talk about, pick a goal, then ask questions.
Commands:
  /goal <goal>          choose a learning goal
  /start                start discussing after the overview
  /guide                show the exploration guide
  /topic <cat>|<topic>  explore a topic from the guide
  /end                  finish and summarize the discussion
  /quit                 leave without summarizing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runDiscuss(cmd.Context(), client, os.Stdin, os.Stdout)
	},
}

// runDiscuss drives one discussion session from lines read off in.
func runDiscuss(ctx context.Context, client *apiClient, in io.Reader, out io.Writer) error {
	resp, err := client.post(ctx, "/api/discussions", nil)
	if err != nil {
		return err
	}
	var view discussion.View
	if err := decodeJSON(resp, &view); err != nil {
		return err
	}
	base := "/api/discussions/" + url.PathEscape(view.ID)

	fmt.Fprintln(out, "Which book would you like to discuss?")

	var goals []string
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, paint(toneCyan, "> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		path, body, quit := discussStep(base, line, goals)
		if quit {
			return nil
		}
		if path == "" {
			fmt.Fprintln(out, paint(toneAmber, "usage: /topic <category>|<topic>"))
			continue
		}

		resp, err := client.post(ctx, path, body)
		if err != nil {
			return err
		}
		var outcome discussion.Outcome
		if err := decodeJSON(resp, &outcome); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				printFailure(out, apiErr.Message)
				continue
			}
			return err
		}

		printOutcome(out, outcome)
		if outcome.GoalOptions != nil {
			goals = outcome.GoalOptions
		}
		if strings.HasSuffix(path, "/end") {
			return nil
		}
	}
	return scanner.Err()
}

// discussStep turns one input line into a request. A bare number picks a
// goal from the last offered options.
func discussStep(base, line string, goals []string) (path string, body any, quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return "", nil, true
	case "/end":
		return base + "/end", nil, false
	case "/start":
		return base + "/start", nil, false
	case "/guide":
		return base + "/guide", nil, false
	case "/goal":
		return base + "/goal", map[string]string{"goal": arg}, false
	case "/topic":
		category, topic, ok := strings.Cut(arg, "|")
		if !ok {
			return "", nil, false
		}
		return base + "/topic", map[string]string{
			"category": strings.TrimSpace(category),
			"topic":    strings.TrimSpace(topic),
		}, false
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(goals) {
		return base + "/goal", map[string]string{"goal": goals[n-1]}, false
	}
	return base + "/messages", map[string]string{"text": line}, false
}

func printOutcome(w io.Writer, o discussion.Outcome) {
	var prefills []string
	if o.Response != nil {
		prefills = o.Response.Prefills
	}
	printAssistant(w, o.Reply.Content, prefills)

	if o.Response != nil {
		for _, aid := range o.Response.LearningAids {
			fmt.Fprintf(w, "  %s %s\n", paint(toneBold, "["+string(aid.Type)+"]"), aid.Title)
		}
	}
	for i, g := range o.GoalOptions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, g)
	}
	if o.Summary != nil {
		printList(w, "Key takeaways", o.Summary.KeyTakeaways)
		printList(w, "Topics", o.Summary.Topics)
	}
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, paint(toneBold, label+":"))
	for _, it := range items {
		fmt.Fprintln(w, "  - "+it)
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <book title>",
	Short: "Show past discussion turns for a book",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetBool("summary")
		bookID := model.Slugify(strings.Join(args, " "))
		if bookID == "" {
			return fmt.Errorf("book title is empty")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		base := "/api/books/" + url.PathEscape(bookID)
		if summary {
			resp, err := client.get(cmd.Context(), base+"/summary")
			if err != nil {
				return err
			}
			var rec model.SummaryRecord
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
			return printJSON(os.Stdout, rec)
		}

		resp, err := client.get(cmd.Context(), base+"/history")
		if err != nil {
			return err
		}
		var turns []model.DiscussionTurn
		if err := decodeJSON(resp, &turns); err != nil {
			return err
		}
		printHistory(os.Stdout, turns)
		return nil
	},
}

func printHistory(w io.Writer, turns []model.DiscussionTurn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No discussions yet.")
		return
	}
	for _, t := range turns {
		header := fmt.Sprintf("%s  %s", t.Timestamp.Local().Format("2006-01-02 15:04"), t.Type)
		fmt.Fprintln(w, paint(toneDim, header))
		if t.Input != "" {
			fmt.Fprintln(w, paint(toneBold, "> "+t.Input))
		}
		fmt.Fprintln(w, t.Response.Content)
		fmt.Fprintln(w)
	}
}

func init() {
	historyCmd.Flags().Bool("summary", false, "show the latest session summary instead")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s %s\n", paint(toneBold, k.Key), k.Value, paint(toneDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
