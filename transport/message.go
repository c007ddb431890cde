// Package transport carries push/pull/poke messages over a websocket,
// with an optional Redis channel for fanning pokes out across server
// replicas.
package transport

import "github.com/tanishqkancharla/sync-kv/synckv"

// frameType tags the kind of message travelling over a client's
// websocket connection.
type frameType string

const (
	frameTypePush         frameType = "push"
	frameTypePull         frameType = "pull"
	frameTypePullResponse frameType = "pullResponse"
	frameTypePoke         frameType = "poke"
)

// frame is the envelope every websocket message is wrapped in. Only
// one of the payload fields is populated, matching frameType.
type frame struct {
	Type         frameType     `json:"type"`
	Push         *pushPayload  `json:"push,omitempty"`
	Pull         *pullPayload  `json:"pull,omitempty"`
	PullResponse *pullResponse `json:"pullResponse,omitempty"`
}

// pushPayload mirrors synckv.Mutation in a JSON-serializable,
// value-copied form for the wire.
type pushPayload struct {
	Mutations []synckv.Mutation `json:"mutations"`
}

type pullPayload struct {
	Cookie synckv.Cookie `json:"cookie"`
}

type pullResponse struct {
	Cookie          synckv.Cookie      `json:"cookie"`
	Patch           synckv.Patch       `json:"patch"`
	LastMutationID  synckv.MutationID  `json:"lastMutationId,omitempty"`
	HasLastMutation bool               `json:"hasLastMutation"`
}

func toPullResult(r pullResponse) synckv.PullResult {
	return synckv.PullResult{
		Cookie:          r.Cookie,
		Patch:           r.Patch,
		LastMutationID:  r.LastMutationID,
		HasLastMutation: r.HasLastMutation,
	}
}

func fromPullResult(r synckv.PullResult) pullResponse {
	return pullResponse{
		Cookie:          r.Cookie,
		Patch:           r.Patch,
		LastMutationID:  r.LastMutationID,
		HasLastMutation: r.HasLastMutation,
	}
}

// pokeChannelMessage is published on the Redis fan-out channel so
// sibling server replicas wake their own locally connected clients.
// Beyond "something changed" it carries only the publishing process's
// origin id, so a process can skip its own broadcasts.
type pokeChannelMessage struct {
	Origin string `json:"origin"`
}
