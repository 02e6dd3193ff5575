// Package agentloop runs the iterative agent loop: for each iteration it
// assembles a prompt, streams one structured LLM call, parses the reply,
// executes the requested operations against the staged repository, and
// records everything before deciding whether to continue.
//
// The loop uses the unifiedllm package's streaming Client directly and owns
// its own iteration budget, history summarization, context fitting and loop
// detection.
//
// # Architecture
//
//   - Session: drives one task from creation to a terminal status and
//     persists the transcript, LLM calls, operation logs and blackboard.
//   - Runner: starts sessions in the background, tracks live ones and
//     routes abort requests.
//   - EventEmitter and Journal: the typed event stream of a session and a
//     replayable fan-out of it for late subscribers.
//   - Turn: the summarized record of one iteration kept in chat history.
//
// # Quick Start
//
//	runner := agentloop.NewRunner(agentloop.Deps{
//	    LLM:   client,
//	    Repo:  repo,
//	    Store: store,
//	}, agentloop.DefaultLoopConfig())
//	defer runner.Close()
//
//	id, err := runner.Submit(ctx, agentloop.TaskRequest{
//	    RepoID:          "repo-1",
//	    TaskDescription: "Add a README",
//	    Mode:            "single_task",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rec, err := runner.Wait(ctx, id)
package agentloop
