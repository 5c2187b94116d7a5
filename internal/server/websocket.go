package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/franckalain/nutriratio/internal/logger"
	"github.com/franckalain/nutriratio/internal/scan"
)

// wsMessage is the envelope of every client message
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type scanRequest struct {
	Image string `json:"image"`
}

type dailyRequest struct {
	Date string `json:"date"`
}

type updateRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	ServingSize *string `json:"serving_size"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, message wsMessage) {
	switch message.Type {
	case "scan":
		s.handleScan(ctx, conn, message.Data)
	case "get_history":
		s.handleGetHistory(ctx, conn)
	case "get_daily":
		s.handleGetDaily(ctx, conn, message.Data)
	case "update_scan":
		s.handleUpdateScan(ctx, conn, message.Data)
	case "delete_scan":
		s.handleDeleteScan(ctx, conn, message.Data)
	case "":
		s.sendError(conn, "Invalid message format")
	default:
		s.sendError(conn, "Unknown message type")
	}
}

func (s *Server) handleScan(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req scanRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Image == "" {
		s.sendError(conn, "Invalid image data")
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		s.sendError(conn, "Invalid image format")
		return
	}

	result, err := s.scanner.Process(ctx, image)
	if err != nil {
		s.sendFailure(conn, "handleScan", err)
		return
	}
	s.sendMessage(conn, "scan_result", result)
}

func (s *Server) handleGetHistory(ctx context.Context, conn *websocket.Conn) {
	items, err := s.scanner.History(ctx, scan.DefaultHistoryLimit)
	if err != nil {
		s.sendFailure(conn, "handleGetHistory", err)
		return
	}
	today, err := s.scanner.Daily(ctx, s.now())
	if err != nil {
		s.sendFailure(conn, "handleGetHistory", err)
		return
	}
	s.sendMessage(conn, "history", map[string]any{
		"items": items,
		"today": today,
	})
}

func (s *Server) handleGetDaily(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req dailyRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(conn, "Invalid date")
			return
		}
	}
	day, err := s.parseDay(req.Date)
	if err != nil {
		s.sendError(conn, "Invalid date")
		return
	}
	daily, err := s.scanner.Daily(ctx, day)
	if err != nil {
		s.sendFailure(conn, "handleGetDaily", err)
		return
	}
	s.sendMessage(conn, "daily", daily)
}

func (s *Server) handleUpdateScan(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req updateRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
		s.sendError(conn, "Missing scan ID")
		return
	}
	record, err := s.scanner.Edit(ctx, req.ID, scan.Edit{Name: req.Name, ServingSize: req.ServingSize})
	if err != nil {
		s.sendFailure(conn, "handleUpdateScan", err)
		return
	}
	s.sendMessage(conn, "scan_updated", record)
}

func (s *Server) handleDeleteScan(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req deleteRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
		s.sendError(conn, "Missing scan ID")
		return
	}
	if err := s.scanner.Delete(ctx, req.ID); err != nil {
		s.sendFailure(conn, "handleDeleteScan", err)
		return
	}
	s.sendMessage(conn, "scan_deleted", map[string]string{"id": req.ID})
}

func (s *Server) sendMessage(conn *websocket.Conn, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).WithField("type", messageType).Warn("error sending message")
	}
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).Warn("error sending error message")
	}
}

// sendFailure reports a workflow error, logging the ones clients cannot fix
func (s *Server) sendFailure(conn *websocket.Conn, funcName string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.LogError(s.log, "server", funcName, "websocket", nil, err)
	}
	s.sendError(conn, publicMessage(err, status))
}
