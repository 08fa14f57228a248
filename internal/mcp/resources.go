package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/canon/internal/store"
)

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"canon://stats",
		"Registry Statistics",
		mcp.WithResourceDescription("Row counts of clubs, sources, evidence chunks, claims, evidence links and history entries, plus database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		return jsonContents(req.Params.URI, stats)
	})
}

func registerClubsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"canon://clubs",
		"Clubs",
		mcp.WithResourceDescription("Every club with its id and name."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		clubs, err := st.ListClubs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing clubs: %w", err)
		}
		return jsonContents(req.Params.URI, clubs)
	})
}

// registerStatusCountsResource exposes per-club review progress.
func registerStatusCountsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"canon://claims/status",
		"Claim Status Counts",
		mcp.WithResourceDescription("Claim counts per club and review status."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sqlStore, ok := st.(*store.SQLiteStore)
		if !ok {
			return nil, fmt.Errorf("status counts resource requires SQLiteStore")
		}

		type statusCount struct {
			ClubID   string `json:"club_id"`
			ClubName string `json:"club_name"`
			Status   string `json:"status"`
			Count    int    `json:"count"`
		}

		rows, err := sqlStore.GetDB().QueryContext(ctx,
			`SELECT c.club_id, cl.name, c.status, COUNT(*)
			 FROM claims c JOIN clubs cl ON cl.id = c.club_id
			 GROUP BY c.club_id, cl.name, c.status
			 ORDER BY cl.name, c.status`)
		if err != nil {
			return nil, fmt.Errorf("querying status counts: %w", err)
		}
		defer rows.Close()

		counts := []statusCount{}
		for rows.Next() {
			var sc statusCount
			if err := rows.Scan(&sc.ClubID, &sc.ClubName, &sc.Status, &sc.Count); err != nil {
				return nil, fmt.Errorf("scanning status count: %w", err)
			}
			counts = append(counts, sc)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating status counts: %w", err)
		}
		return jsonContents(req.Params.URI, counts)
	})
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
