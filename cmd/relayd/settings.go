package main

type Settings struct {
	Port        int      `env:"PORT,default=8000"`
	BasePath    string   `env:"BASE_PATH,default=/relay"`
	JWTSecret   string   `env:"JWT_SECRET"`
	APIKeys     []string `env:"API_KEYS"`
	LogEncoding string   `env:"LOG_ENCODING,default=console"`
}
