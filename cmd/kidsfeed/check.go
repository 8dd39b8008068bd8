package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kidsfeed/internal/config"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/policy/opa"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/usage"
	"github.com/goodtune/kidsfeed/internal/video"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkFamily string
	checkMember string
	checkDay    string
	checkTime   string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check gate decisions interactively",
	Long:  `Check what access and admission decisions kidsfeed would make for a family member.`,
}

var checkAccessCmd = &cobra.Command{
	Use:   "access [flags]",
	Short: "Check the access gate for a member",
	Long:  `Check whether a member is locked out by the daily quota or viewing schedule.`,
	Example: `  kidsfeed -c config.yaml check access --family smith --member alice
  kidsfeed check access --family smith --member alice --day saturday --time 19:30`,
	Args: cobra.NoArgs,
	RunE: runCheckAccess,
}

var checkVideoCmd = &cobra.Command{
	Use:   "video [flags] VIDEO_ID",
	Short: "Check whether a member may open a video",
	Long:  `Check the admission policy for a stored video and member.`,
	Example: `  kidsfeed check video --family smith --member alice 0b7c1f0e-6a7e-4d1c-9a51-3c4f3f7d1e22`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCheckVideo,
}

var checkURLCmd = &cobra.Command{
	Use:     "url URL",
	Short:   "Show how a video link is recognised",
	Long:    `Parse a video link and show the platform, video id and embed URL kidsfeed would use.`,
	Example: `  kidsfeed check url https://youtu.be/dQw4w9WgXcQ`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCheckURL,
}

func init() {
	for _, c := range []*cobra.Command{checkAccessCmd, checkVideoCmd} {
		c.Flags().StringVar(&checkFamily, "family", "", "Family ID (required)")
		c.Flags().StringVar(&checkMember, "member", "", "Member ID (required)")
		_ = c.MarkFlagRequired("family")
		_ = c.MarkFlagRequired("member")
	}
	checkAccessCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkAccessCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")

	// Add subcommands
	checkCmd.AddCommand(checkAccessCmd)
	checkCmd.AddCommand(checkVideoCmd)
	checkCmd.AddCommand(checkURLCmd)
	rootCmd.AddCommand(checkCmd)
}

// checkUsage reads a family's counter as it would stand at a fixed instant
// without applying the daily reset to storage.
type checkUsage struct {
	quotas storage.QuotaStore
	at     time.Time
}

func (u checkUsage) Now() time.Time { return u.at }

func (u checkUsage) Current(ctx context.Context, familyID string) (storage.WatchQuota, error) {
	today := u.at.Format(usage.DateLayout)
	quota, err := u.quotas.Get(ctx, familyID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.WatchQuota{FamilyID: familyID, LastResetDate: today}, nil
	}
	if err != nil {
		return storage.WatchQuota{}, err
	}
	if quota.LastResetDate != today {
		return storage.WatchQuota{FamilyID: familyID, LastResetDate: today}, nil
	}
	return *quota, nil
}

// checkEnv is the minimal stack the check commands evaluate against.
type checkEnv struct {
	store  storage.Store
	engine *policy.Engine
}

func openCheckEnv(at time.Time) (*checkEnv, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	opaEngine, err := opa.NewEngine(cfg.Policy.PolicyDir, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	location, err := cfg.Location()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tracker := checkUsage{quotas: store.Quotas(), at: at.In(location)}
	engine := policy.NewEngine(store, tracker, opaEngine, defaultControls(cfg.Policy.DefaultControls), logger)

	return &checkEnv{store: store, engine: engine}, nil
}

func runCheckAccess(cmd *cobra.Command, args []string) error {
	at := time.Now()
	if checkDay != "" || checkTime != "" {
		var err error
		at, err = parseCheckTime(at, checkDay, checkTime)
		if err != nil {
			return fmt.Errorf("invalid check time: %w", err)
		}
	}

	env, err := openCheckEnv(at)
	if err != nil {
		return err
	}
	defer env.store.Close()

	ctx := cmd.Context()
	decision, err := env.engine.Check(ctx, checkFamily, checkMember)
	if err != nil {
		return fmt.Errorf("access check failed: %w", err)
	}

	controls, err := env.engine.Controls(ctx, checkFamily)
	if err != nil {
		return err
	}

	printAccessResult(at, controls, decision)
	return nil
}

func runCheckVideo(cmd *cobra.Command, args []string) error {
	env, err := openCheckEnv(time.Now())
	if err != nil {
		return err
	}
	defer env.store.Close()

	ctx := cmd.Context()
	member, err := env.store.Members().Get(ctx, checkFamily, checkMember)
	if err != nil {
		return fmt.Errorf("load member %s: %w", checkMember, err)
	}
	record, err := env.store.Videos().Get(ctx, checkFamily, args[0])
	if err != nil {
		return fmt.Errorf("load video %s: %w", args[0], err)
	}

	admission, err := env.engine.Admit(ctx, *member, *record)
	if err != nil {
		return fmt.Errorf("admission check failed: %w", err)
	}

	printAdmissionResult(*member, *record, admission)
	return nil
}

func runCheckURL(cmd *cobra.Command, args []string) error {
	parsed := video.ParseURL(args[0])
	printURLResult(parsed)
	if !parsed.Valid() {
		return fmt.Errorf("unsupported video link: %s", args[0])
	}
	return nil
}

func printHeader(title string) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println(title)
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func printFooter() {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// printAccessResult prints the gate decision with colors
func printAccessResult(at time.Time, controls policy.ParentalControls, decision policy.AccessDecision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	printHeader("ACCESS GATE CHECK")

	fmt.Printf("Family:     %s\n", checkFamily)
	fmt.Printf("Member:     %s\n", checkMember)
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	if controls.Enabled {
		fmt.Printf("Controls:   %d min/day, %s-%s\n", controls.DailyTimeLimitMinutes, controls.Schedule.Start, controls.Schedule.End)
	} else {
		fmt.Printf("Controls:   disabled\n")
	}
	fmt.Printf("Watched:    %s today\n", time.Duration(decision.DailyWatchTimeSeconds)*time.Second)
	fmt.Println()

	cyan.Print("Decision:   ")
	if !decision.Locked {
		green.Println("UNLOCKED")
		if remaining := decision.RemainingSeconds(); remaining >= 0 {
			yellow.Printf("Remaining:  %s\n", time.Duration(remaining)*time.Second)
		}
	} else {
		red.Println("LOCKED")
		notice := decision.Reason.Notice()
		fmt.Printf("Reason:     %s\n", decision.Reason)
		fmt.Printf("            → %s\n", notice.Title)
	}

	printFooter()
}

// printAdmissionResult prints the admission decision with colors
func printAdmissionResult(member storage.Member, record storage.Video, decision *opa.AdmissionDecision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	printHeader("ADMISSION CHECK")

	fmt.Printf("Member:     %s (%s, %s)\n", member.ID, member.Name, member.Role)
	fmt.Printf("Video:      %s\n", record.ID)
	if record.Title != "" {
		fmt.Printf("Title:      %s\n", record.Title)
	}
	fmt.Printf("Platform:   %s\n", video.ParsePlatform(record.Platform).DisplayName())
	if len(record.Recipients) == 0 {
		fmt.Printf("Recipients: (all children)\n")
	} else {
		fmt.Printf("Recipients: %s\n", strings.Join(record.Recipients, ", "))
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Allow {
		green.Println("ALLOW")
	} else {
		red.Println("DENY")
	}
	if decision.Reason != "" {
		fmt.Printf("Reason:     %s\n", decision.Reason)
	}

	printFooter()
}

func printURLResult(parsed video.ParsedURL) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	printHeader("VIDEO LINK CHECK")

	fmt.Printf("URL:        %s\n", parsed.OriginalURL)
	cyan.Print("Platform:   ")
	if parsed.Valid() {
		green.Println(parsed.Platform.DisplayName())
		fmt.Printf("Video ID:   %s\n", parsed.VideoID)
		fmt.Printf("Embed URL:  %s\n", parsed.EmbedURL)
		if parsed.ThumbnailURL != "" {
			fmt.Printf("Thumbnail:  %s\n", parsed.ThumbnailURL)
		}
	} else {
		red.Println("UNSUPPORTED")
	}

	printFooter()
}

// parseCheckTime resolves day and time flags to the next matching instant
// relative to now.
func parseCheckTime(now time.Time, dayStr, timeStr string) (time.Time, error) {
	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		minutes, ok := policy.ParseClock(timeStr)
		if !ok {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format: %s", timeStr)
		}
		hour, minute = minutes/60, minutes%60
	}

	// Parse day of week
	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	// Calculate target date
	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}

	targetDate := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), hour, minute, 0, 0, now.Location()), nil
}
