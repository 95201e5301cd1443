package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawdustofmind/livescore-fanout/internal/snapshot"
)

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, []snapshot.Presentation{
		{HomeTeam: "Spain", AwayTeam: "England", HomeGoals: 2, AwayGoals: 1, Status: "2H", Elapsed: 90, Extra: 3,
			HomeScorers: []string{"47' Williams", "86' Oyarzabal (Ast. Cucurella)"}, AwayScorers: []string{"73' Palmer"}},
		{HomeTeam: "Netherlands", AwayTeam: "Turkey", Status: "NS"},
	})

	out := buf.String()
	assert.Contains(t, out, "--- 2 fixture(s) ---")
	assert.Contains(t, out, "2H 90+3' Spain 2-1 England")
	assert.Contains(t, out, "47' Williams, 86' Oyarzabal (Ast. Cucurella)")
	assert.Contains(t, out, "NS       Netherlands 0-0 Turkey")
}
