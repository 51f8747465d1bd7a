package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"nutribot/internal/bot"
	"nutribot/internal/models"
)

type UserParams struct {
	UserID int64 `json:"user_id" description:"Chat user id"`
}

type LogFoodParams struct {
	UserID      int64  `json:"user_id" description:"Chat user id"`
	Description string `json:"description" description:"Food and quantity, e.g. '2 bananas'"`
}

type AnswerParams struct {
	UserID     int64  `json:"user_id" description:"Chat user id"`
	ProposalID string `json:"proposal_id,omitempty" description:"Proposal being answered; empty answers whatever is pending"`
}

type SendReportParams struct {
	UserID int64 `json:"user_id,omitempty" description:"Send only to this user; omit to run the full daily loop"`
}

// ToolReply is the JSON payload of every command tool result.
type ToolReply struct {
	UserID     int64  `json:"user_id"`
	Text       string `json:"text"`
	ProposalID string `json:"proposal_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type toolSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal arguments: %v", errBadParams, err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errBadParams, err)
	}

	return nil
}

func requireUser(userID int64) error {
	if userID == 0 {
		return fmt.Errorf("%w: user_id is required", errBadParams)
	}
	return nil
}

func (s *CommandServer) registerTools() {
	userCmd := func(fn func(context.Context, int64) (bot.OutboundMessage, error)) toolHandler {
		return func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
			var params UserParams
			if err := extractParams(req, &params); err != nil {
				return nil, err
			}
			if err := requireUser(params.UserID); err != nil {
				return nil, err
			}
			return s.reply(fn(ctx, params.UserID))
		}
	}

	s.tools = map[string]toolHandler{
		"start":           userCmd(s.cmds.Start),
		"help":            userCmd(s.cmds.Help),
		"reset":           userCmd(s.cmds.Reset),
		"show_totals":     userCmd(s.cmds.ShowTotals),
		"enable_reports":  userCmd(s.cmds.EnableReports),
		"disable_reports": userCmd(s.cmds.DisableReports),
		"log_food":        s.handleLogFood,
		"confirm":         s.handleAnswer(s.cmds.Confirm),
		"decline":         s.handleAnswer(s.cmds.Decline),
		"send_report_now": s.handleSendReportNow,
	}

	descriptions := map[string]toolSpec{
		"start":           {Description: "Register the user and show the help text", Params: []string{"user_id"}},
		"help":            {Description: "Show the help text", Params: []string{"user_id"}},
		"reset":           {Description: "Delete all of the user's entries and any pending proposal", Params: []string{"user_id"}},
		"show_totals":     {Description: "Today's totals for the user", Params: []string{"user_id"}},
		"enable_reports":  {Description: "Opt the user into the daily report", Params: []string{"user_id"}},
		"disable_reports": {Description: "Opt the user out of the daily report", Params: []string{"user_id"}},
		"log_food":        {Description: "Estimate a food description and propose it for confirmation", Params: []string{"user_id", "description"}},
		"confirm":         {Description: "Commit the pending proposal", Params: []string{"user_id", "proposal_id"}},
		"decline":         {Description: "Drop the pending proposal", Params: []string{"user_id", "proposal_id"}},
		"send_report_now": {Description: "Send yesterday's report now, to one user or to every opted-in user", Params: []string{"user_id"}},
	}

	s.specs = s.specs[:0]
	for name := range s.tools {
		spec := descriptions[name]
		spec.Name = name
		s.specs = append(s.specs, spec)
	}
	sort.Slice(s.specs, func(i, j int) bool { return s.specs[i].Name < s.specs[j].Name })
}

func (s *CommandServer) handleLogFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", errBadParams)
	}
	return s.reply(s.cmds.LogFood(ctx, params.UserID, params.Description))
}

func (s *CommandServer) handleAnswer(fn func(context.Context, int64, string) (bot.OutboundMessage, error)) toolHandler {
	return func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
		var params AnswerParams
		if err := extractParams(req, &params); err != nil {
			return nil, err
		}
		if err := requireUser(params.UserID); err != nil {
			return nil, err
		}
		return s.reply(fn(ctx, params.UserID, params.ProposalID))
	}
}

// handleSendReportNow with a user sends that user's report; without one it
// runs the whole daily loop, which is how ops verify delivery.
func (s *CommandServer) handleSendReportNow(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SendReportParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.UserID != 0 {
		return s.reply(s.cmds.SendReportNow(ctx, params.UserID))
	}

	if s.reports == nil {
		return nil, errors.New("report scheduler not configured")
	}
	run, err := s.reports.RunNow(ctx, models.TriggerManual)
	if err != nil {
		return s.createJSONResponse(map[string]string{"error": err.Error()}, true)
	}
	return s.createJSONResponse(run, run.Failed > 0)
}

func (s *CommandServer) reply(msg bot.OutboundMessage, err error) (*protocol.CallToolResult, error) {
	out := ToolReply{UserID: msg.UserID, Text: msg.Text, ProposalID: msg.ProposalID}
	if err != nil {
		out.Error = err.Error()
	}
	return s.createJSONResponse(out, err != nil)
}
