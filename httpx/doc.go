// Package httpx holds the HTTP plumbing shared by the REST adapters: a retrying
// round tripper with exponential backoff, a client factory that applies one
// timeout and retry budget to both the sync and async client of an adapter,
// and a JSON request helper that turns non-2xx responses into *StatusError.
//
// Retries happen only in the transport, driven by Config.MaxRetries. Adapters
// never loop on their own.
package httpx
