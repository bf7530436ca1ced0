package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/media"
	"timecapsule/backend/internal/objectstore"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage/memory"
)

// apiFixture 在内存依赖之上组装完整路由，端到端走 HTTP 层
type apiFixture struct {
	router *gin.Engine
	tokens *auth.JWTManager
	store  *memory.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	workers := pool.NewWorkerPool(2, 8)
	workers.Start(context.Background())
	t.Cleanup(workers.Stop)

	return newAPIFixtureWithPool(t, workers)
}

// newAPIFixtureWithPool 用调用方给定的校验池组装路由，
// 过载场景的用例传入一个必然满载的池。
func newAPIFixtureWithPool(t *testing.T, workers *pool.WorkerPool) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{MaxBodySize: 1 << 20},
		Media: config.MediaConfig{
			MaxImageBytes: 10 << 20,
			ImageBound:    512,
			ImageQuality:  80,
			MaxVideoBytes: 1 << 20,
			PosterBound:   200,
		},
		Unlock: config.UnlockConfig{VerifyTimeout: 5 * time.Second},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"*"}},
		JWT: config.JWTConfig{
			Secret:        "router-test-secret",
			Issuer:        "timecapsule-test",
			AccessExpiry:  time.Hour,
			RefreshExpiry: 24 * time.Hour,
		},
	}

	store := memory.NewStore()
	objects := objectstore.NewMemoryStore(config.ObjectStoreConfig{
		Driver:         "memory",
		Bucket:         "test-bucket",
		DownloadTTL:    15 * time.Minute,
		DownloadTTLMax: 30 * time.Minute,
	})

	throttle := service.NewMemoryThrottle(3, time.Minute)
	t.Cleanup(throttle.Close)

	verifier := auth.NewVerifier(bcrypt.MinCost)
	capsules := service.NewCapsuleService(store, objects, verifier, workers, throttle, &cfg.Unlock, zap.NewNop())

	images := media.NewImagePipeline(cfg.Media, objects, zap.NewNop())
	mediaService := service.NewMediaService(images, nil, objects, zap.NewNop())

	tokens := auth.NewJWTManager(&cfg.JWT)

	router := NewRouter(RouterDependencies{
		Config:         cfg,
		CapsuleService: capsules,
		MediaService:   mediaService,
		JWTManager:     tokens,
	})

	return &apiFixture{router: router, tokens: tokens, store: store}
}

// envelope 解析统一响应结构，Data 留到用例里按需反序列化
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type capsuleBody struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Title    string  `json:"title"`
	Message  *string `json:"message"`
	IsLocked bool    `json:"isLocked"`
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *apiFixture) token(t *testing.T, ownerID string) string {
	t.Helper()
	resp, err := f.tokens.GenerateTokens(ownerID)
	require.NoError(t, err)
	return resp.AccessToken
}

func createRequest(revealAt time.Time, passphrase *string) map[string]interface{} {
	req := map[string]interface{}{
		"title":    "致未来",
		"message":  "打开时请记得今天",
		"author":   "旅人",
		"revealAt": revealAt.Format(time.RFC3339),
	}
	if passphrase != nil {
		req["passphrase"] = *passphrase
	}
	return req
}

func TestCapsuleLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("已到时胶囊创建后即可读取", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/capsules", "", createRequest(time.Now().Add(-time.Hour), nil))
		require.Equal(t, http.StatusCreated, rec.Code)

		var created capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &created))
		assert.Equal(t, "available", created.Status)
		require.NotNil(t, created.Message)
		assert.Equal(t, "打开时请记得今天", *created.Message)

		rec, env = f.do(t, http.MethodGet, "/v1/capsules/"+created.ID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, created.ID, got.ID)
		require.NotNil(t, got.Message)
	})

	t.Run("未到时胶囊返回受限投影", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/capsules", "", createRequest(time.Now().Add(time.Hour), nil))
		require.Equal(t, http.StatusCreated, rec.Code)

		var created capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &created))
		// 创建响应同样过门控：内容对创建者也不回显
		assert.Equal(t, "not_revealed", created.Status)
		assert.Nil(t, created.Message)

		rec, env = f.do(t, http.MethodGet, "/v1/capsules/"+created.ID, "", nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, CodeForbidden, env.Code)

		var got capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "not_revealed", got.Status)
		assert.Nil(t, got.Message)
		// 受限投影里封存内容字段整体缺席，不以空串出现
		assert.NotContains(t, string(env.Data), `"message"`)
	})

	t.Run("胶囊不存在返回404", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/capsules/no-such-id", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, MsgCapsuleNotFound, env.Msg)
	})

	t.Run("附件数量超限返回400", func(t *testing.T) {
		req := createRequest(time.Now().Add(-time.Hour), nil)
		drafts := make([]map[string]interface{}, 0, 6)
		for i := 0; i < 6; i++ {
			drafts = append(drafts, map[string]interface{}{
				"kind":      "image",
				"objectKey": fmt.Sprintf("image/anonymous/1700000000-%08d-pic.jpg", i),
				"mimeType":  "image/jpeg",
				"sizeBytes": 2048,
				"width":     800,
				"height":    600,
			})
		}
		req["attachments"] = drafts

		rec, _ := f.do(t, http.MethodPost, "/v1/capsules", "", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCapsuleUnlock(t *testing.T) {
	f := newAPIFixture(t)

	passphrase := "correct horse battery"
	rec, env := f.do(t, http.MethodPost, "/v1/capsules", "", createRequest(time.Now().Add(-time.Hour), &passphrase))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created capsuleBody
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "locked", created.Status)
	assert.True(t, created.IsLocked)

	t.Run("不带口令读取被门控", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/capsules/"+created.ID, "", nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var got capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "locked", got.Status)
		assert.Nil(t, got.Message)
	})

	t.Run("口令错误返回受限投影", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/capsules/"+created.ID+"/unlock", "",
			map[string]string{"passphrase": "definitely wrong"})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, MsgInvalidPassphrase, env.Msg)

		var got capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "invalid_passphrase", got.Status)
		assert.Nil(t, got.Message)
	})

	t.Run("缺少口令返回400", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPost, "/v1/capsules/"+created.ID+"/unlock", "",
			map[string]string{"passphrase": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("口令正确仅本次响应可见", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/capsules/"+created.ID+"/unlock", "",
			map[string]string{"passphrase": passphrase})
		require.Equal(t, http.StatusOK, rec.Code)

		var got capsuleBody
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "unlocked", got.Status)
		require.NotNil(t, got.Message)

		// 解锁不改变持久状态：下一次不带口令的读取仍被门控
		rec, _ = f.do(t, http.MethodGet, "/v1/capsules/"+created.ID, "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUnlockVerifyOverload(t *testing.T) {
	// 未启动且零容量的池：任何 bcrypt 派发都立即满载
	f := newAPIFixtureWithPool(t, pool.NewWorkerPool(1, 0))

	digest, err := auth.NewVerifier(bcrypt.MinCost).Digest("open-sesame-please")
	require.NoError(t, err)

	capsule, err := domain.NewCapsule(domain.NewCapsuleParams{
		Title:            "Sealed",
		Message:          "secret",
		Author:           "me",
		RevealAt:         time.Now().Add(time.Hour),
		PassphraseDigest: &digest,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateCapsule(context.Background(), capsule))

	// 过载映射为 503 可重试，不得伪装成口令错误或内部故障
	rec, env := f.do(t, http.MethodPost, "/v1/capsules/"+capsule.ID+"/unlock", "",
		map[string]string{"passphrase": "open-sesame-please"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeServiceUnavailable, env.Code)
	assert.Equal(t, MsgVerifyOverloaded, env.Msg)
}

func TestOwnedCapsuleRoutes(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, "owner-001")

	rec, env := f.do(t, http.MethodPost, "/v1/capsules", token, createRequest(time.Now().Add(-time.Hour), nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created capsuleBody
	require.NoError(t, json.Unmarshal(env.Data, &created))

	t.Run("列表需要认证", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodGet, "/v1/capsules", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("列表只含受限投影", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/capsules", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list struct {
			Items []capsuleBody `json:"items"`
			Count int           `json:"count"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &list))
		require.Equal(t, 1, list.Count)
		assert.Equal(t, created.ID, list.Items[0].ID)
		assert.Equal(t, "available", list.Items[0].Status)
		assert.Nil(t, list.Items[0].Message)
		// 已到时的胶囊在列表里也不出现内容字段，空串占位同样禁止
		assert.NotContains(t, string(env.Data), `"message"`)
	})

	t.Run("删除后读取返回404", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodDelete, "/v1/capsules/"+created.ID, token, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec, _ = f.do(t, http.MethodGet, "/v1/capsules/"+created.ID, token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("删除他人胶囊报告为不存在", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/capsules", token, createRequest(time.Now().Add(-time.Hour), nil))
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NoError(t, json.Unmarshal(env.Data, &created))

		stranger := f.token(t, "owner-002")
		rec, _ = f.do(t, http.MethodDelete, "/v1/capsules/"+created.ID, stranger, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestImageUploadRoute(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("有效图片归一化为附件草稿", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))

		req := httptest.NewRequest(http.MethodPost, "/v1/media/images", bytes.NewReader(buf.Bytes()))
		req.Header.Set("X-Filename", "family.jpg")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		var draft struct {
			Kind      string `json:"kind"`
			MimeType  string `json:"mimeType"`
			ObjectKey string `json:"objectKey"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &draft))
		assert.Equal(t, "image", draft.Kind)
		assert.Equal(t, "image/jpeg", draft.MimeType)
		assert.NotEmpty(t, draft.ObjectKey)
		assert.Equal(t, 64, draft.Width)
		assert.Equal(t, 48, draft.Height)
	})

	t.Run("空请求体返回400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/media/images", bytes.NewReader(nil))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("不可解码的字节返回400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/media/images", bytes.NewReader([]byte("not an image")))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)

		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, MsgImageUndecodable, env.Msg)
	})
}
