// Package riotclient é o transporte outbound para a API da Riot com o
// limiter acoplado: cada chamada passa por Hit antes de sair e alimenta
// Refresh com os headers da resposta.
//
// Fluxo por chamada:
//
//  1. Adquire uma vaga no pool de concorrência (com timeout opcional)
//  2. Hit — se negar, devolve ThrottledError sem tocar a rede
//  3. Executa a requisição com o X-Riot-Token
//  4. Refresh com os headers retornados (best-effort; erro vira warning)
package riotclient
