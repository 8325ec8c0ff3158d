package main

import "os"

const defaultLocalBody = `{"event_id":"local-evt-1","type":"ORDER_COMPLETED","order_id":1,"customer_id":1,"total":250,"occurred_at":"2026-01-01T00:00:00Z"}`

func localBody() string {
	if b := os.Getenv("LOCAL_SQS_BODY"); b != "" {
		return b
	}
	return defaultLocalBody
}
