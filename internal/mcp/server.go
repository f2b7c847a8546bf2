package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autocall/internal/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the automation operations as MCP tools over stdio.
// The stdio peer is trusted local tooling, so every tool names the acting
// user explicitly.
type MCPServer struct {
	service  *core.Service
	logger   *slog.Logger
	location *time.Location
	version  string
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(service *core.Service, logger *slog.Logger, location *time.Location, version string) *MCPServer {
	if location == nil {
		location = time.Local
	}
	return &MCPServer{
		service:  service,
		logger:   logger,
		location: location,
		version:  version,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"autocall",
		s.version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func userParam() mcp.ToolOption {
	return mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Owner of the automation"),
	)
}

func settingsParam() mcp.ToolOption {
	return mcp.WithString("settings_id",
		mcp.Required(),
		mcp.Description("Automation settings ID"),
	)
}

func scheduleParams(required bool) []mcp.ToolOption {
	freq := []mcp.PropertyOption{
		mcp.Description("How often the automation fires"),
		mcp.Enum("daily", "weekly", "once"),
	}
	runTime := []mcp.PropertyOption{mcp.Description("Local time of day, HH:MM")}
	if required {
		freq = append(freq, mcp.Required())
		runTime = append(runTime, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString("frequency", freq...),
		mcp.WithString("run_time", runTime...),
		mcp.WithString("run_days",
			mcp.Description("Comma separated weekday codes for weekly automations, e.g. 'mon,wed,fri'"),
		),
	}
}

func settingsFieldParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithString("agent_id", mcp.Description("Voice agent that places the calls")),
		mcp.WithString("lead_statuses",
			mcp.Description("Comma separated lead statuses to call, default 'new'"),
		),
		mcp.WithNumber("max_calls_per_run",
			mcp.Description("Upper bound of calls per run, default 5"),
			mcp.Min(1),
			mcp.Max(core.MaxCallsPerRunLimit),
		),
		mcp.WithBoolean("enabled", mcp.Description("Whether the automation is scheduled")),
	}
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	create := []mcp.ToolOption{
		mcp.WithDescription("Create an automated call schedule"),
		userParam(),
	}
	create = append(create, scheduleParams(true)...)
	create = append(create, settingsFieldParams()...)
	mcpServer.AddTool(mcp.NewTool("automation_create", create...), s.handleCreate)

	mcpServer.AddTool(mcp.NewTool("automation_list",
		mcp.WithDescription("List a user's automations"),
		userParam(),
	), s.handleList)

	mcpServer.AddTool(mcp.NewTool("automation_get",
		mcp.WithDescription("Show one automation"),
		userParam(),
		settingsParam(),
	), s.handleGet)

	update := []mcp.ToolOption{
		mcp.WithDescription("Update an automation. Only the given fields change"),
		userParam(),
		settingsParam(),
	}
	update = append(update, scheduleParams(false)...)
	update = append(update, settingsFieldParams()...)
	mcpServer.AddTool(mcp.NewTool("automation_update", update...), s.handleUpdate)

	mcpServer.AddTool(mcp.NewTool("automation_delete",
		mcp.WithDescription("Delete an automation. Its run history is kept"),
		userParam(),
		settingsParam(),
	), s.handleDelete)

	mcpServer.AddTool(mcp.NewTool("automation_run_now",
		mcp.WithDescription("Start a run immediately, even if the automation is disabled"),
		userParam(),
		settingsParam(),
	), s.handleRunNow)

	mcpServer.AddTool(mcp.NewTool("automation_list_runs",
		mcp.WithDescription("Show the run history of an automation"),
		userParam(),
		settingsParam(),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	preview := []mcp.ToolOption{
		mcp.WithDescription("Preview the next fire times of a schedule"),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(core.MaxPreviewCount),
		),
	}
	preview = append(preview, scheduleParams(true)...)
	mcpServer.AddTool(mcp.NewTool("automation_preview", preview...), s.handlePreview)

	mcpServer.AddTool(mcp.NewTool("automation_run_scheduler",
		mcp.WithDescription("Run a scheduler sweep now"),
	), s.handleRunScheduler)

	s.logger.Info("MCP tools registered", "count", 9)
}

func principal(request mcp.CallToolRequest) (core.Principal, error) {
	userID := strings.TrimSpace(mcp.ParseString(request, "user_id", ""))
	if userID == "" {
		return core.Principal{}, errors.New("user_id is required")
	}
	return core.Principal{UserID: userID}, nil
}

func (s *MCPServer) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	in := core.SettingsInput{
		Name:      mcp.ParseString(request, "name", ""),
		AgentID:   mcp.ParseString(request, "agent_id", ""),
		Frequency: core.Frequency(mcp.ParseString(request, "frequency", "")),
		RunTime:   mcp.ParseString(request, "run_time", ""),
		RunDays:   splitList(mcp.ParseString(request, "run_days", "")),
	}
	for _, st := range splitList(mcp.ParseString(request, "lead_statuses", "")) {
		in.LeadStatuses = append(in.LeadStatuses, core.LeadStatus(st))
	}
	if _, ok := args["max_calls_per_run"]; ok {
		n := int(mcp.ParseFloat64(request, "max_calls_per_run", 0))
		in.MaxCallsPerRun = &n
	}
	if _, ok := args["enabled"]; ok {
		enabled := mcp.ParseBoolean(request, "enabled", true)
		in.Enabled = &enabled
	}

	settings, err := s.service.CreateSettings(ctx, p, in)
	if err != nil {
		return s.toolError("create automation", err), nil
	}
	return mcp.NewToolResultText("Automation created\n" + s.describeSettings(settings)), nil
}

func (s *MCPServer) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.service.ListSettings(ctx, p)
	if err != nil {
		return s.toolError("list automations", err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No automations found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d automations:\n\n", len(list))
	for _, settings := range list {
		state := "enabled"
		if !settings.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s [%s]\n", settings.ID, state)
		if settings.Name != "" {
			fmt.Fprintf(&b, "  Name: %s\n", settings.Name)
		}
		fmt.Fprintf(&b, "  Schedule: %s\n", describeSchedule(settings))
		fmt.Fprintf(&b, "  Next run: %s\n\n", s.formatTime(settings.NextRun))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	settings, err := s.service.GetSettings(ctx, p, mcp.ParseString(request, "settings_id", ""))
	if err != nil {
		return s.toolError("get automation", err), nil
	}
	return mcp.NewToolResultText(s.describeSettings(settings)), nil
}

func (s *MCPServer) handleUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	var patch core.SettingsPatch
	if _, ok := args["name"]; ok {
		v := mcp.ParseString(request, "name", "")
		patch.Name = &v
	}
	if _, ok := args["agent_id"]; ok {
		v := mcp.ParseString(request, "agent_id", "")
		patch.AgentID = &v
	}
	if _, ok := args["frequency"]; ok {
		v := core.Frequency(mcp.ParseString(request, "frequency", ""))
		patch.Frequency = &v
	}
	if _, ok := args["run_time"]; ok {
		v := mcp.ParseString(request, "run_time", "")
		patch.RunTime = &v
	}
	if _, ok := args["run_days"]; ok {
		v := splitList(mcp.ParseString(request, "run_days", ""))
		patch.RunDays = &v
	}
	if _, ok := args["lead_statuses"]; ok {
		var v []core.LeadStatus
		for _, st := range splitList(mcp.ParseString(request, "lead_statuses", "")) {
			v = append(v, core.LeadStatus(st))
		}
		patch.LeadStatuses = &v
	}
	if _, ok := args["max_calls_per_run"]; ok {
		v := int(mcp.ParseFloat64(request, "max_calls_per_run", 0))
		patch.MaxCallsPerRun = &v
	}
	if _, ok := args["enabled"]; ok {
		v := mcp.ParseBoolean(request, "enabled", true)
		patch.Enabled = &v
	}

	settings, err := s.service.UpdateSettings(ctx, p, mcp.ParseString(request, "settings_id", ""), patch)
	if err != nil {
		return s.toolError("update automation", err), nil
	}
	return mcp.NewToolResultText("Automation updated\n" + s.describeSettings(settings)), nil
}

func (s *MCPServer) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := mcp.ParseString(request, "settings_id", "")
	if err := s.service.DeleteSettings(ctx, p, id); err != nil {
		return s.toolError("delete automation", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Automation deleted: %s", id)), nil
}

func (s *MCPServer) handleRunNow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := mcp.ParseString(request, "settings_id", "")
	run, err := s.service.RunNow(ctx, p, id)
	if err != nil {
		return s.toolError("start run", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Run started\nAutomation: %s\nRun ID: %s", id, run.ID)), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := principal(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	runs, err := s.service.ListRuns(ctx, p, mcp.ParseString(request, "settings_id", ""), limit, 0)
	if err != nil {
		return s.toolError("list runs", err), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs yet"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d runs:\n\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(&b, "[%s] %s (%s)\n", r.Status, r.ID, r.Trigger)
		fmt.Fprintf(&b, "    Started: %s\n", s.formatTime(&r.StartTime))
		if r.EndTime != nil {
			fmt.Fprintf(&b, "    Ended: %s\n", s.formatTime(r.EndTime))
		}
		fmt.Fprintf(&b, "    Leads: %d  Calls: %d ok, %d failed\n", r.LeadsProcessed, r.CallsInitiated, r.CallsFailed)
		if r.Error != nil {
			fmt.Fprintf(&b, "    Error: %s\n", *r.Error)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sched := core.Schedule{
		Frequency: core.Frequency(mcp.ParseString(request, "frequency", "")),
		RunTime:   mcp.ParseString(request, "run_time", ""),
		RunDays:   splitList(mcp.ParseString(request, "run_days", "")),
	}
	count := int(mcp.ParseFloat64(request, "count", 5))
	times, err := s.service.PreviewSchedule(ctx, sched, count)
	if err != nil {
		return s.toolError("preview schedule", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Schedule: %s at %s", sched.Frequency, sched.RunTime)
	if len(sched.RunDays) > 0 {
		fmt.Fprintf(&b, " on %s", strings.Join(sched.RunDays, ","))
	}
	fmt.Fprintf(&b, "\nTimezone: %s\n\nUpcoming runs:\n", s.location)
	for i, t := range times {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.formatTime(&t))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleRunScheduler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Local stdio access already implies operator rights.
	if err := s.service.RunScheduler(ctx, core.Principal{UserID: "mcp", IsAdmin: true}); err != nil {
		return s.toolError("run scheduler", err), nil
	}
	return mcp.NewToolResultText("Scheduler sweep started"), nil
}

func (s *MCPServer) toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, core.ErrValidation):
		return mcp.NewToolResultError(fmt.Sprintf("invalid input: %v", err))
	case core.IsNotFound(err):
		return mcp.NewToolResultError("automation not found")
	default:
		s.logger.Error(op, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
	}
}

func (s *MCPServer) describeSettings(settings *core.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\n", settings.ID)
	if settings.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", settings.Name)
	}
	fmt.Fprintf(&b, "Enabled: %t\n", settings.Enabled)
	fmt.Fprintf(&b, "Schedule: %s\n", describeSchedule(settings))
	if settings.AgentID != "" {
		fmt.Fprintf(&b, "Agent: %s\n", settings.AgentID)
	}
	statuses := make([]string, 0, len(settings.LeadStatuses))
	for _, st := range settings.LeadStatuses {
		statuses = append(statuses, string(st))
	}
	fmt.Fprintf(&b, "Lead statuses: %s\n", strings.Join(statuses, ","))
	fmt.Fprintf(&b, "Max calls per run: %d\n", settings.MaxCallsPerRun)
	fmt.Fprintf(&b, "Last run: %s\n", s.formatTime(settings.LastRun))
	fmt.Fprintf(&b, "Next run: %s\n", s.formatTime(settings.NextRun))
	return b.String()
}

func describeSchedule(settings *core.Settings) string {
	out := fmt.Sprintf("%s at %s", settings.Frequency, settings.RunTime)
	if settings.Frequency == core.FrequencyWeekly {
		out += " on " + strings.Join(settings.RunDays, ",")
	}
	return out
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04:05")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
