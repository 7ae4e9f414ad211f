package utils

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на базе zap
//
// Использование:
//
//	log := utils.InitGlobalLogger(utils.LogConfig{Level: "info", Format: "json"})
//	log.WithComponent("batch").Info("run started", utils.RunID(id))
//
// Глобальные функции Info/Warn/Error пишут в логгер, установленный
// через InitGlobalLogger или SetGlobalLogger.

// LogConfig - настройки логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool
}

// Logger - обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitLogger создаёт логгер по конфигурации
//
// Невалидный путь вывода не приводит к ошибке: логгер пишет в stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	base := zap.New(core, opts...)
	return &Logger{Logger: base, sugar: base.Sugar()}
}

// parseLevel переводит строку уровня в zapcore.Level (по умолчанию info)
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт логгер и устанавливает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая логгер по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// NewNopLogger возвращает логгер без вывода (для тестов)
func NewNopLogger() *Logger {
	base := zap.NewNop()
	return &Logger{Logger: base, sugar: base.Sugar()}
}

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent добавляет имя компонента
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithAccount добавляет ID счёта
func (l *Logger) WithAccount(accountID int64) *Logger {
	return l.With(AccountID(accountID))
}

// WithRun добавляет ID прогона
func (l *Logger) WithRun(runID string) *Logger {
	return l.With(RunID(runID))
}

// WithGroup добавляет группу счетов
func (l *Logger) WithGroup(group string) *Logger {
	return l.With(Group(group))
}

// Sugar возвращает SugaredLogger для форматированного вывода
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальные функции
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============================================================
// Доменные поля
// ============================================================

func AccountID(id int64) zap.Field      { return zap.Int64("account_id", id) }
func RunID(id string) zap.Field         { return zap.String("run_id", id) }
func Group(group string) zap.Field      { return zap.String("group", group) }
func RuleType(rule string) zap.Field    { return zap.String("rule_type", rule) }
func Ticket(ticket int64) zap.Field     { return zap.Int64("ticket", ticket) }
func Severity(s string) zap.Field       { return zap.String("severity", s) }
func Attempt(n int) zap.Field           { return zap.Int("attempt", n) }
func ErrorClass(class string) zap.Field { return zap.String("error_class", class) }
func State(state string) zap.Field      { return zap.String("state", state) }
func Equity(v string) zap.Field         { return zap.String("equity", v) }
func Threshold(v string) zap.Field      { return zap.String("threshold", v) }
func RuleSet(ref string) zap.Field      { return zap.String("rule_set", ref) }
func Operator(op string) zap.Field      { return zap.String("operator", op) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func Component(name string) zap.Field   { return zap.String("component", name) }
func Latency(ms float64) zap.Field      { return zap.Float64("latency_ms", ms) }
func Elapsed(d time.Duration) zap.Field { return zap.Duration("elapsed", d) }
func Count(key string, n int) zap.Field { return zap.Int(key, n) }

// Переэкспорт базовых конструкторов zap
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Duration = zap.Duration
	Err      = zap.Error
	Any      = zap.Any
)

// fieldsToInterface преобразует поля в пары ключ/значение для SugaredLogger
func fieldsToInterface(fields []zap.Field) []interface{} {
	enc := zapcore.NewMapObjectEncoder()
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		f.AddTo(enc)
		out = append(out, f.Key, enc.Fields[f.Key])
	}
	return out
}

// Infow пишет сообщение с полями через SugaredLogger
func (l *Logger) Infow(msg string, fields ...zap.Field) {
	l.sugar.Infow(msg, fieldsToInterface(fields)...)
}
