package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"qmt-trader/internal/record"
)

func startReportServer(ctx context.Context, rec *record.Recorder, port int, logger *zap.Logger) error {
	parseLimit := func(r *http.Request) int {
		limit := 200
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}
		return limit
	}

	writeJSON := func(w http.ResponseWriter, payload interface{}) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn("写入报表响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		results, err := rec.Results(r.Context(), parseLimit(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, results)
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		history, err := rec.History(r.Context(), parseLimit(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, history)
	})
	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		trades, err := rec.Trades(r.Context(), parseLimit(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, trades)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭报表服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("报表服务异常", zap.Error(err))
		}
	}()

	logger.Info("报表接口已启动", zap.String("addr", addr))
	return nil
}
