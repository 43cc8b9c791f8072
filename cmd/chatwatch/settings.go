package main

type Settings struct {
	ServerURL      string `env:"SERVER_URL,default=ws://localhost:8000/relay/websocket"`
	Token          string `env:"TOKEN"`
	CommunityID    string `env:"COMMUNITY_ID"`
	ConversationID string `env:"CONVERSATION_ID"`
	LogEncoding    string `env:"LOG_ENCODING,default=console"`
}
