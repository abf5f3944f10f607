package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// Upstream de validação: mostra o que chegou do gateway (IP resolvido e request id).
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	r := chi.NewRouter()
	r.Get("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p><p>cliente: %s</p>",
			r.Header.Get("X-Client-IP"))
		logger.Info("acesso ao /showTela",
			"client_ip", r.Header.Get("X-Client-IP"),
			"request_id", r.Header.Get("X-Request-ID"),
			"remote", r.RemoteAddr,
		)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info("servidor rodando", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("erro ao subir o servidor", "err", err)
		os.Exit(1)
	}
}
