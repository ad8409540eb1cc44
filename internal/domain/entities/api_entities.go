package entities

// ErrorResponse is the uniform error envelope returned by the HTTP API
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// EnqueueWithdrawalResponse acknowledges acceptance into the queue
type EnqueueWithdrawalResponse struct {
	TransactionID string `json:"transaction_id"`
	Accepted      bool   `json:"accepted"`
}

// MonitorWalletResponse acknowledges a deposit watch change
type MonitorWalletResponse struct {
	WalletID   string `json:"wallet_id"`
	Monitoring bool   `json:"monitoring"`
}

// ChainHealth reports one backend's liveness probe result
type ChainHealth struct {
	Chain  Chain  `json:"chain"`
	Active bool   `json:"active"`
	Error  string `json:"error,omitempty"`
}
