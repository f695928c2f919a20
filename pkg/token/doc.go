// Package token は署名付きアイデンティティトークンの発行と検証を提供する。
//
// トークンはHS256で署名されたJWTであり、ユーザーID・ユーザー名・ロールと
// 有効期限を保持する。サーバー側には保存せず、リクエストごとに検証する。
package token
