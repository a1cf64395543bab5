package config

type WorkerKeyStruct struct {
	PersistAnswersQueue string
	PersistScoresQueue  string
	PersistEventsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue: "persist_answers_queue",
	PersistScoresQueue:  "persist_scores_queue",
	PersistEventsQueue:  "persist_events_queue",
}
